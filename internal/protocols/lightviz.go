package protocols

// LightViz module capabilities. Each module panel (dataset, clip, contour,
// slice, multi-slice) edits one pipeline stage on the server.
const (
	LightVizDataset    = "LightVizDataset"
	LightVizClip       = "LightVizClip"
	LightVizContour    = "LightVizContour"
	LightVizSlice      = "LightVizSlice"
	LightVizMultiSlice = "LightVizMultiSlice"
)

// Representation modes accepted by the updateRepresentation methods.
const (
	RepresentationWireframe        = "Wireframe"
	RepresentationSurface          = "Surface"
	RepresentationSurfaceWithEdges = "Surface With Edges"
	RepresentationVolume           = "Volume"
)

// SolidColor selects a constant color in the updateColorBy methods.
const SolidColor = "__SOLID__"

func NewLightVizDataset(s Session) Group {
	return Group{Methods: methods(s, map[string]string{
		"listDatasets":         "light.viz.dataset.list",
		"getThumbnails":        "light.viz.dataset.thumbnail",
		"loadDataset":          "light.viz.dataset.load",
		"setGlobalColormap":    "light.viz.dataset.colormap.set",
		"getState":             "light.viz.dataset.getstate",
		"updateOpacity":        "light.viz.dataset.opacity",
		"updateTime":           "light.viz.dataset.time",
		"updateRepresentation": "light.viz.dataset.representation",
		"updateColorBy":        "light.viz.dataset.color",
		"enable":               "light.viz.dataset.enable",
	})}
}

func NewLightVizClip(s Session) Group {
	return Group{Methods: methods(s, map[string]string{
		"getState":             "light.viz.clip.getstate",
		"updatePosition":       "light.viz.clip.position",
		"updateInsideOut":      "light.viz.clip.insideout",
		"updateRepresentation": "light.viz.clip.representation",
		"updateColorBy":        "light.viz.clip.color",
		"enable":               "light.viz.clip.enable",
	})}
}

func NewLightVizContour(s Session) Group {
	return Group{Methods: methods(s, map[string]string{
		"setUseClipped":        "light.viz.contour.useclipped",
		"getState":             "light.viz.contour.getstate",
		"updateValues":         "light.viz.contour.values",
		"updateContourBy":      "light.viz.contour.by",
		"updateRepresentation": "light.viz.contour.representation",
		"updateColorBy":        "light.viz.contour.color",
		"enable":               "light.viz.contour.enable",
	})}
}

func NewLightVizSlice(s Session) Group {
	return Group{Methods: methods(s, map[string]string{
		"setUseClipped":        "light.viz.slice.useclipped",
		"getState":             "light.viz.slice.getstate",
		"updatePosition":       "light.viz.slice.position",
		"updateVisibility":     "light.viz.slice.visibility",
		"updateRepresentation": "light.viz.slice.representation",
		"updateColorBy":        "light.viz.slice.color",
		"enable":               "light.viz.slice.enable",
	})}
}

func NewLightVizMultiSlice(s Session) Group {
	return Group{Methods: methods(s, map[string]string{
		"setUseClipped":        "light.viz.mslice.useclipped",
		"getState":             "light.viz.mslice.getstate",
		"updateNormal":         "light.viz.mslice.normal",
		"updateSlicePositions": "light.viz.mslice.positions",
		"updateRepresentation": "light.viz.mslice.representation",
		"updateColorBy":        "light.viz.mslice.color",
		"enable":               "light.viz.mslice.enable",
	})}
}
