package protocols

import (
	"context"
	"encoding/json"
)

const (
	ColorManager             = "ColorManager"
	FileListing              = "FileListing"
	KeyValuePairStore        = "KeyValuePairStore"
	MouseHandler             = "MouseHandler"
	ProgressUpdate           = "ProgressUpdate"
	ProxyManager             = "ProxyManager"
	SaveData                 = "SaveData"
	TimeHandler              = "TimeHandler"
	ViewPort                 = "ViewPort"
	ViewPortGeometryDelivery = "ViewPortGeometryDelivery"
	ViewPortImageDelivery    = "ViewPortImageDelivery"
	VtkGeometryDelivery      = "VtkGeometryDelivery"
	VtkImageDelivery         = "VtkImageDelivery"
	ProxyName                = "ProxyName"
)

func NewColorManager(s Session) Group {
	m := methods(s, map[string]string{
		"rescaleTransferFunction":  "pv.color.manager.rescale.transfer.function",
		"getScalarBarVisibilities": "pv.color.manager.scalarbar.visibility.get",
		"setScalarBarVisibilities": "pv.color.manager.scalarbar.visibility.set",
		"setOpacityFunctionPoints": "pv.color.manager.opacity.points.set",
		"getOpacityFunctionPoints": "pv.color.manager.opacity.points.get",
		"getRgbPoints":             "pv.color.manager.rgb.points.get",
		"setRgbPoints":             "pv.color.manager.rgb.points.set",
		"getCurrentScalarRange":    "pv.color.manager.scalar.range.get",
		"setSurfaceOpacity":        "pv.color.manager.surface.opacity.set",
		"getSurfaceOpacity":        "pv.color.manager.surface.opacity.get",
		"selectColorMap":           "pv.color.manager.select.preset",
		"listColorMapNames":        "pv.color.manager.list.preset",
	})
	m["getLutImage"] = withDefaults(rpc(s, "pv.color.manager.lut.image.get"), nil, 256, nil)
	m["listColorMapImages"] = withDefaults(rpc(s, "pv.color.manager.lut.image.all"), 256)
	// representation, colorMode, arrayLocation, arrayName, vectorMode,
	// vectorComponent, rescale
	m["colorBy"] = withDefaults(rpc(s, "pv.color.manager.color.by"),
		nil, "SOLID", "POINTS", "", "Magnitude", 0, false)
	return Group{Methods: m}
}

func NewFileListing(s Session) Group {
	return Group{Methods: map[string]Method{
		"listServerDirectory": withDefaults(rpc(s, "file.server.directory.list"), "."),
	}}
}

func NewKeyValuePairStore(s Session) Group {
	return Group{Methods: methods(s, map[string]string{
		"storeKeyPair":    "pv.keyvaluepair.store",
		"retrieveKeyPair": "pv.keyvaluepair.retrieve",
	})}
}

func NewMouseHandler(s Session) Group {
	return Group{Methods: methods(s, map[string]string{
		"interaction": "viewport.mouse.interaction",
	})}
}

// NewProgressUpdate only publishes; subscribe to its "progress" event.
func NewProgressUpdate(s Session) Group {
	return Group{
		Methods: map[string]Method{},
		Topics:  map[string]string{"progress": "paraview.progress"},
	}
}

func NewProxyManager(s Session) Group {
	m := methods(s, map[string]string{
		"open":        "pv.proxy.manager.create.reader",
		"findProxyId": "pv.proxy.manager.find.id",
		"update":      "pv.proxy.manager.update",
		"delete":      "pv.proxy.manager.delete",
		"list":        "pv.proxy.manager.list",
	})
	// functionName, parentId, initialValues, skipDomain, subProxyValues
	m["create"] = withDefaults(rpc(s, "pv.proxy.manager.create"),
		nil, 0, map[string]any{}, false, map[string]any{})
	m["get"] = withDefaults(rpc(s, "pv.proxy.manager.get"), nil, true)
	m["available"] = withDefaults(rpc(s, "pv.proxy.manager.available"), "sources")
	sources := rpc(s, "pv.proxy.manager.available")
	m["availableSources"] = func(ctx context.Context, _ ...any) (json.RawMessage, error) {
		return sources(ctx, "sources")
	}
	m["availableFilters"] = func(ctx context.Context, _ ...any) (json.RawMessage, error) {
		return sources(ctx, "filters")
	}
	return Group{Methods: m}
}

func NewSaveData(s Session) Group {
	return Group{Methods: map[string]Method{
		"saveData": withDefaults(rpc(s, "pv.data.save"), nil, map[string]any{}),
	}}
}

func NewTimeHandler(s Session) Group {
	m := methods(s, map[string]string{
		"updateTime":    "pv.vcr.action",
		"setTimeValue":  "pv.time.value.set",
		"getTimeValue":  "pv.time.value.get",
		"setTimeStep":   "pv.time.index.set",
		"getTimeStep":   "pv.time.index.get",
		"getTimeValues": "pv.time.values",
		"stop":          "pv.time.stop",
	})
	m["play"] = withDefaults(rpc(s, "pv.time.play"), 0.1)
	return Group{Methods: m}
}

func NewViewPort(s Session) Group {
	m := methods(s, map[string]string{
		"resetCamera":                     "viewport.camera.reset",
		"updateOrientationAxesVisibility": "viewport.axes.orientation.visibility.update",
		"updateCenterAxesVisibility":      "viewport.axes.center.visibility.update",
		"getCamera":                       "viewport.camera.get",
		"updateSize":                      "viewport.size.update",
	})
	// viewId, focalPoint, viewUp, position, forceUpdate
	m["updateCamera"] = withDefaults(rpc(s, "viewport.camera.update"), nil, nil, nil, nil, true)
	return Group{Methods: m}
}

func NewViewPortGeometryDelivery(s Session) Group {
	return Group{Methods: methods(s, map[string]string{
		"getSceneMetaData":             "viewport.webgl.metadata",
		"getSceneMetaDataAllTimesteps": "viewport.webgl.metadata.alltimesteps",
		"getWebGLData":                 "viewport.webgl.data",
		"getCachedWebGLData":           "viewport.webgl.cached.data",
	})}
}

func NewViewPortImageDelivery(s Session) Group {
	return Group{Methods: methods(s, map[string]string{
		"stillRender": "viewport.image.render",
	})}
}

func NewVtkGeometryDelivery(s Session) Group {
	m := methods(s, map[string]string{
		"getSceneState":      "viewport.geometry.view.get.state",
		"addViewObserver":    "viewport.geometry.view.observer.add",
		"removeViewObserver": "viewport.geometry.view.observer.remove",
	})
	m["getArray"] = withDefaults(rpc(s, "viewport.geometry.array.get"), nil, true)
	return Group{
		Methods: m,
		Topics:  map[string]string{"viewChange": "viewport.geometry.view.subscription"},
	}
}

func NewVtkImageDelivery(s Session) Group {
	return Group{
		Methods: methods(s, map[string]string{
			"addRenderObserver":    "viewport.image.push.observer.add",
			"removeRenderObserver": "viewport.image.push.observer.remove",
			"stillRender":          "viewport.image.push",
			"setQuality":           "viewport.image.push.quality",
			"setViewSize":          "viewport.image.push.original.size",
			"invalidateCache":      "viewport.image.push.invalidate.cache",
		}),
		Topics: map[string]string{"imageReady": "viewport.image.push.subscription"},
	}
}

func NewProxyName(s Session) Group {
	return Group{Methods: methods(s, map[string]string{
		"getName":  "pv.proxy.name.get",
		"setName":  "pv.proxy.name.set",
		"getNames": "pv.proxy.name.list",
	})}
}
