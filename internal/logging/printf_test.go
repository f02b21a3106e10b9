package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/luciancaetano/stompnet/internal/config"
)

func TestPrintf(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := New(&buf, config.LogConfig{Level: "info"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := NewPrintf(logger.With("component", "gnet"))

	p.Debugf("dropped %d", 1)
	p.Infof("listening on %s", "127.0.0.1:7777")
	p.Errorf("accept failed: %v", "boom")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("debug record written at info level: %q", out)
	}
	for _, want := range []string{
		`level=INFO msg="listening on 127.0.0.1:7777" component=gnet`,
		`level=ERROR msg="accept failed: boom" component=gnet`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
