package ports

import "github.com/gin-gonic/gin"

type HTTPHandler interface {
	Health(c *gin.Context)
	Ready(c *gin.Context)
	ListConnections(c *gin.Context)
	GetConnection(c *gin.Context)
}
