package router

import (
	"github.com/wb-go/wbf/ginext"

	"image-transformer/internal/api/handlers/image"
	"image-transformer/internal/middleware"
)

func Setup(h *image.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/health", h.Health)

	api := r.Group("/api")

	api.POST("/images", h.Upload)                     // uploading an original image
	api.GET("/images/:id", h.Get)                     // getting original bytes by id
	api.GET("/images/:id/meta", h.GetMeta)            // getting the image record
	api.GET("/images/:id/status", h.Status)           // polling the processing state
	api.POST("/images/:id/transform", h.Transform)    // sync by default, ?mode=async enqueues
	api.GET("/images/:id/transformations", h.History) // listing completed transformations
	api.DELETE("/images/:id", h.Delete)               // deleting image, outputs and cache entries
	api.GET("/stats", h.CacheStats)                   // result cache counters

	return r
}
