package utils

import (
	"io"

	"github.com/MrSnakeDoc/urnharvest/internal/logger"
)

// MustClose closes c and logs any error.
// Use for response bodies and other streams whose close errors we want to see.
func MustClose(c io.Closer, log logger.Logger) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close", logger.Error(err))
	}
}
