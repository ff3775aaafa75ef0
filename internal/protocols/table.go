package protocols

// ParaViewWebTable holds the generic ParaViewWeb capabilities plus ProxyName.
func ParaViewWebTable() *Table {
	t := NewTable()
	t.MustRegister(ColorManager, NewColorManager)
	t.MustRegister(FileListing, NewFileListing)
	t.MustRegister(KeyValuePairStore, NewKeyValuePairStore)
	t.MustRegister(MouseHandler, NewMouseHandler)
	t.MustRegister(ProgressUpdate, NewProgressUpdate)
	t.MustRegister(ProxyManager, NewProxyManager)
	t.MustRegister(SaveData, NewSaveData)
	t.MustRegister(TimeHandler, NewTimeHandler)
	t.MustRegister(ViewPort, NewViewPort)
	t.MustRegister(ViewPortGeometryDelivery, NewViewPortGeometryDelivery)
	t.MustRegister(ViewPortImageDelivery, NewViewPortImageDelivery)
	t.MustRegister(VtkGeometryDelivery, NewVtkGeometryDelivery)
	t.MustRegister(VtkImageDelivery, NewVtkImageDelivery)
	t.MustRegister(ProxyName, NewProxyName)
	return t
}

// DefaultTable is ParaViewWebTable plus the LightViz module capabilities.
func DefaultTable() *Table {
	t := ParaViewWebTable()
	t.MustRegister(LightVizDataset, NewLightVizDataset)
	t.MustRegister(LightVizClip, NewLightVizClip)
	t.MustRegister(LightVizContour, NewLightVizContour)
	t.MustRegister(LightVizSlice, NewLightVizSlice)
	t.MustRegister(LightVizMultiSlice, NewLightVizMultiSlice)
	return t
}
