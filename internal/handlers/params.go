package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/agendatrack/pkg/response"
)

// parseID reads a uint path parameter and writes a 400 when it is malformed.
func parseID(c *gin.Context, name, msg string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, msg)
		return 0, false
	}
	return uint(id), true
}
