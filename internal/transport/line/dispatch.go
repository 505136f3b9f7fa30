package lineproto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
)

const (
	respOK             = "OK"
	respNull           = "NULL"
	respKeyNotFound    = "Key not found"
	respNoKeys         = "No keys found"
	respEmptyCommand   = "Error: Empty command"
	respInvalidUTF8    = "Error: Command is not valid UTF-8"
	respLineTooLong    = "Error: Command line too long"
	respNotEnabled     = "ERROR: Replication not enabled"
	usageGet           = "Error: Usage: GET <key>"
	usagePut           = "Error: Usage: PUT <key> <value>"
	usageDelete        = "Error: Usage: DELETE <key>"
	usageReplicate     = "ERROR: Usage: REPLICATE <operation>"
	usageAddBackup     = "ERROR: Usage: ADD_BACKUP <address>"
	keysSeparator      = ", "
	replicationErrText = "ERROR: "
)

// Execute runs a single command line and returns the response line without
// the trailing newline. It never fails: every problem becomes response text.
func (s *Server) Execute(ctx context.Context, line string) string {
	if !utf8.ValidString(line) {
		s.metrics.IncCommand(s.nodeID, "INVALID", "error")
		return respInvalidUTF8
	}
	parts := strings.Fields(line)
	if len(parts) == 0 {
		s.metrics.IncCommand(s.nodeID, "EMPTY", "error")
		return respEmptyCommand
	}

	verb := strings.ToUpper(parts[0])
	args := parts[1:]
	label := verbLabel(verb)

	ctx, span := s.tracer.Start(ctx, "lineproto.Server.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("lineproto.verb", label),
		attribute.Int("lineproto.args", len(args)),
	)
	start := time.Now()

	resp, result := s.dispatch(ctx, verb, parts[0], args)

	s.metrics.IncCommand(s.nodeID, label, result)
	s.metrics.ObserveCommandDuration(s.nodeID, label, time.Since(start))
	span.SetAttributes(attribute.String("lineproto.result", result))
	if result == "error" {
		recordSpanError(span, errors.New(resp))
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, verb, rawVerb string, args []string) (string, string) {
	switch verb {
	case "GET":
		if len(args) != 1 {
			return usageGet, "error"
		}
		value, ok := s.store.Get(args[0])
		if !ok {
			return respKeyNotFound, "not_found"
		}
		return value, "ok"

	case "PUT":
		if len(args) < 2 {
			return usagePut, "error"
		}
		s.store.Put(ctx, args[0], strings.Join(args[1:], " "))
		return respOK, "ok"

	case "DELETE":
		if len(args) != 1 {
			return usageDelete, "error"
		}
		if !s.store.Delete(ctx, args[0]) {
			return respNull, "not_found"
		}
		return respOK, "ok"

	case "KEYS":
		keys := s.store.Keys()
		if len(keys) == 0 {
			return respNoKeys, "ok"
		}
		return strings.Join(keys, keysSeparator), "ok"

	case "HEARTBEAT":
		if s.repl == nil {
			return respNotEnabled, "disabled"
		}
		s.repl.ReceiveHeartbeat()
		return respOK, "ok"

	case "REPLICATE":
		if len(args) < 1 {
			return usageReplicate, "error"
		}
		if s.repl == nil {
			return respNotEnabled, "disabled"
		}
		if err := s.repl.ApplyOperation(ctx, strings.Join(args, " ")); err != nil {
			s.logger.Warn("rejected replicated operation", "node_id", s.nodeID, "error", err)
			return replicationErrText + err.Error(), "error"
		}
		return respOK, "ok"

	case "ADD_BACKUP":
		if len(args) != 1 {
			return usageAddBackup, "error"
		}
		if s.repl == nil {
			return respNotEnabled, "disabled"
		}
		if err := s.repl.AddBackup(args[0]); err != nil {
			return replicationErrText + err.Error(), "error"
		}
		return respOK, "ok"

	default:
		return fmt.Sprintf("Error: Unknown command '%s'", rawVerb), "error"
	}
}

// verbLabel bounds metric label cardinality to known verbs.
func verbLabel(verb string) string {
	switch verb {
	case "GET", "PUT", "DELETE", "KEYS", "HEARTBEAT", "REPLICATE", "ADD_BACKUP":
		return verb
	default:
		return "UNKNOWN"
	}
}
