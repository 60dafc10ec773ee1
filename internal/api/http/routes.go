package http

import "github.com/gin-gonic/gin"

// Register mounts every handler on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	// Form host operations
	r.POST("/forms", h.AddForm)
	r.DELETE("/forms/:id", h.DeleteForm)
	r.POST("/forms/:id/release", h.ReleaseForm)
	r.POST("/forms/:id/request", h.RequestForm)
	r.POST("/forms/:id/cast", h.CastTempForm)
	r.POST("/forms/:id/message", h.MessageEvent)
	r.POST("/forms/:id/router", h.RouterEvent)
	r.POST("/forms/visibility", h.NotifyVisibility)
	r.POST("/forms/enable-update", h.EnableUpdate)
	r.POST("/forms/disable-update", h.DisableUpdate)
	r.POST("/forms/invalid", h.DeleteInvalidForms)
	r.POST("/forms/state", h.AcquireFormState)

	// Form provider operations
	r.POST("/forms/:id/update", h.UpdateForm)
	r.POST("/forms/:id/next-refresh", h.SetNextRefreshTime)

	// Test and maintenance
	r.POST("/forms/batch", h.BatchAddForms)
	r.DELETE("/forms", h.ClearFormRecords)

	// Package events
	r.DELETE("/hosts/:uid", h.HostRemoved)
	r.DELETE("/providers/:bundle", h.ProviderRemoved)

	// Dumps
	r.GET("/dump/forms/storage", h.DumpStorage)
	r.GET("/dump/forms/cache", h.DumpCache)
	r.GET("/dump/forms/bundle/:bundle", h.DumpFormsByBundle)
	r.GET("/dump/forms/:id", h.DumpFormByID)
	r.GET("/dump/forms/:id/timer", h.DumpFormTimer)
	r.GET("/dump/abilities", h.DumpAbilities)
	r.GET("/dump/data-abilities", h.DumpDataAbilities)
}
