package handler

import (
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/pkg/response"
)

// streamFile sends an opened file as an attachment and closes it.
func streamFile(c *gin.Context, file *os.File, filename string) {
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Stream(c, file, info.Size(), filename)
}
