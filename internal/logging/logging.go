package logging

import (
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the zerolog logger with the specified debug mode and output format.
func InitLogger(debug, human bool) {
	InitLoggerTo(os.Stderr, debug, human)
}

// InitLoggerTo is InitLogger with an explicit sink; the shell owns stdout.
func InitLoggerTo(out io.Writer, debug, human bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano            // always initialize base logger with timestamp.
	base := zerolog.New(out).With().Timestamp().Logger() // initialize base logger.
	if human {
		log.Logger = base.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339Nano,
		}) // select output format.
	} else {
		log.Logger = base // use JSON logger.
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel) // set debug level.
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel) // set info level.
	}
}

// LogRequest logs a received frame with structured fields.
func LogRequest(
	clientIP string,
	command string,
	requestData []byte,
	activeConns int64,
) {
	log.Info().
		Str("event", "request_received").
		Str("client_ip", clientIP).
		Str("command", command).
		Str("request_hex", hex.EncodeToString(requestData)).
		Int64("active_connections", activeConns).
		Msg("received command")
}

// LogResponse logs a sent response with structured fields.
func LogResponse(
	clientIP string,
	command string,
	responseData []byte,
	statusCode uint16,
	activeConns int64,
) {
	log.Info().
		Str("event", "response_sent").
		Str("client_ip", clientIP).
		Str("command", command).
		Str("response_hex", hex.EncodeToString(responseData)).
		Str("status", hex.EncodeToString([]byte{byte(statusCode >> 8), byte(statusCode)})).
		Int64("active_connections", activeConns).
		Msg("sent response")
}

// LogOperation logs a driver operation at debug level.
func LogOperation(instance, layer, operation string, err error) {
	ev := log.Debug().
		Str("event", "operation_done").
		Str("instance", instance).
		Str("layer", layer).
		Str("operation", operation)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("driver operation completed")
}
