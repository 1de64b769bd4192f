package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromContextFallsBackToGlobal(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected global logger")
	}
}

func TestWithContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).With().Str("request_id", "abc").Logger()

	ctx := WithContext(context.Background(), &l)
	FromContext(ctx).Info().Msg("hello")

	if !strings.Contains(buf.String(), `"request_id":"abc"`) {
		t.Fatalf("expected request_id field in %q", buf.String())
	}
}
