package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the REST endpoints on rg
func RegisterRoutes(rg *gin.RouterGroup, visits *VisitHandler, stats *StatisticsHandler, users *UserHandler) {
	v := rg.Group("/visits")
	{
		v.POST("", visits.CreateVisit)
		v.GET("/:id", visits.GetVisit)
		v.PATCH("/:id", visits.UpdateVisit)
		v.DELETE("/:id", visits.DeleteVisit)
	}

	rg.GET("/statistics/daily", stats.GetDaily)

	rg.POST("/users", users.CreateUser)
	rg.GET("/users/:id", users.GetUser)
	rg.POST("/templates", users.CreateTemplate)
}
