package wrapped

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTelemetryParserExtractsPromptAndEvalTiming(t *testing.T) {
	p := newTelemetryParser()

	lines := "some unrelated server log line\n" +
		"llama_perf_context_print: prompt eval time =      35.26 ms /     3 tokens   (   11.75 ms per token,    85.09 tokens per second)\n" +
		"llama_perf_context_print:        eval time =    1991.14 ms /    63 runs   (   31.61 ms per token,    31.64 tokens per second)\n"

	_, err := p.Write([]byte(lines))
	require.NoError(t, err)

	sample := p.Sample()
	require.InDelta(t, 0.03526, sample.TimeToFirstToken, 1e-6)
	require.Equal(t, 3, sample.PromptTokens)
	require.Equal(t, 64, sample.ResponseTokens)
	require.InDelta(t, 1000*64/1991.14, sample.TokensPerSecond, 1e-3)
}

func TestTelemetryParserHandlesSplitWrites(t *testing.T) {
	p := newTelemetryParser()

	first := "llama_perf_context_print: prompt eval time =      10.00 ms /"
	second := "     5 tokens   (    2.00 ms per token,   500.00 tokens per second)\n"

	_, err := p.Write([]byte(first))
	require.NoError(t, err)
	_, err = p.Write([]byte(second))
	require.NoError(t, err)

	sample := p.Sample()
	require.Equal(t, 5, sample.PromptTokens)
}

func TestTelemetryParserIgnoresUnrelatedLines(t *testing.T) {
	p := newTelemetryParser()
	_, err := p.Write([]byte("just a regular log line\nanother one\n"))
	require.NoError(t, err)
	require.Equal(t, TelemetrySample{}, p.Sample())
}
