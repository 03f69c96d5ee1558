package chat

import (
	"log"
	"os"
	"strings"
)

var chatDebugEnabled = strings.EqualFold(os.Getenv("NUR_AI_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if chatDebugEnabled {
		log.Printf(format, args...)
	}
}
