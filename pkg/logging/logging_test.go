package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestComponentTagsLines(t *testing.T) {
	var buf bytes.Buffer
	root.SetOutput(&buf)
	root.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	root.SetLevel(logrus.InfoLevel)

	log := Component("scheduler")
	log.WithField("model", "llama-3").Infof("loaded in %dms", 42)

	output := buf.String()
	require.Contains(t, output, "component=scheduler")
	require.Contains(t, output, "model=llama-3")
	require.Contains(t, output, "loaded in 42ms")
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, logrus.InfoLevel, level)

	level, err = ParseLevel("debug")
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, level)

	_, err = ParseLevel("not-a-level")
	require.Error(t, err)
}

func TestWriterEmitsLines(t *testing.T) {
	var buf bytes.Buffer
	root.SetOutput(&buf)
	root.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	w := Component("wrapped.llamacpp").Writer()
	_, err := w.Write([]byte("model server ready\n"))
	require.NoError(t, err)
	require.True(t, strings.Contains(buf.String(), "model server ready"))
}
