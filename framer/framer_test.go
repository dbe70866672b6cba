package framer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFramer_Push(t *testing.T) {
	testCases := []struct {
		description string
		maxLine     int
		chunks      []string
		expect      []string
		pending     int
		hasError    bool
	}{
		{
			description: "single complete line",
			chunks:      []string{"{\"id\":1}\n"},
			expect:      []string{"{\"id\":1}"},
		},
		{
			description: "message split across three chunks",
			chunks:      []string{"{\"jsonrpc\":\"2.0\",\"id", "\":1,\"result\":{}}", "\n"},
			expect:      []string{"{\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}"},
		},
		{
			description: "multiple lines in one chunk",
			chunks:      []string{"{\"id\":1}\n{\"id\":2}\n{\"id\":3}\n"},
			expect:      []string{"{\"id\":1}", "{\"id\":2}", "{\"id\":3}"},
		},
		{
			description: "residual survives until completed",
			chunks:      []string{"{\"id\":1}\n{\"id\"", ":2}\n"},
			expect:      []string{"{\"id\":1}", "{\"id\":2}"},
		},
		{
			description: "empty lines are skipped",
			chunks:      []string{"\n\n{\"id\":1}\n\n"},
			expect:      []string{"{\"id\":1}"},
		},
		{
			description: "partial tail stays pending",
			chunks:      []string{"{\"id\":1}\n{\"par"},
			expect:      []string{"{\"id\":1}"},
			pending:     6,
		},
		{
			description: "oversized line is discarded",
			maxLine:     8,
			chunks:      []string{"0123456789abcdef\n{\"id\":1}\n"},
			expect:      []string{"{\"id\":1}"},
			hasError:    true,
		},
		{
			description: "oversized residual is dropped including its tail",
			maxLine:     8,
			chunks:      []string{"0123456789", "abcdef\n{\"id\":1}\n"},
			expect:      []string{"{\"id\":1}"},
			hasError:    true,
		},
	}

	for _, testCase := range testCases {
		f := New(testCase.maxLine)
		var actual []string
		var lastErr error
		for _, chunk := range testCase.chunks {
			lines, err := f.Push([]byte(chunk))
			if err != nil {
				lastErr = err
			}
			for _, line := range lines {
				actual = append(actual, string(line))
			}
		}
		assert.EqualValues(t, testCase.expect, actual, testCase.description)
		assert.Equal(t, testCase.pending, f.Pending(), testCase.description)
		if testCase.hasError {
			assert.NotNil(t, lastErr, testCase.description)
		} else {
			assert.Nil(t, lastErr, testCase.description)
		}
	}
}

func TestFramer_ResidualIsCopied(t *testing.T) {
	f := New(0)
	chunk := []byte("{\"par")
	_, err := f.Push(chunk)
	assert.Nil(t, err)
	chunk[0] = 'X'
	lines, err := f.Push([]byte("tial\":1}\n"))
	assert.Nil(t, err)
	assert.EqualValues(t, [][]byte{[]byte("{\"partial\":1}")}, lines)
}
