package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code and op",
			err:  &Error{Code: CodeQuery, Op: "events_for_day"},
			want: "QUERY: events_for_day",
		},
		{
			name: "with day and event",
			err:  &Error{Code: CodeLogWrite, Op: "append", Day: "2025-06-01", EventID: "evt:1", Err: io.ErrShortWrite},
			want: "LOG_WRITE: append (day=2025-06-01, event=evt:1): short write",
		},
		{
			name: "event only with message",
			err:  &Error{Code: CodeEncoding, Op: "append", EventID: "evt:2", Message: "bad action"},
			want: "ENCODING: append: bad action (event=evt:2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCodeHelpersSeeThroughWrapping(t *testing.T) {
	base := New(CodeKeyStore, "ensure_key", io.EOF)
	wrapped := fmt.Errorf("append: %w", base)

	assert.True(t, IsKeyStore(wrapped))
	assert.False(t, IsLogWrite(wrapped))
	assert.True(t, errors.Is(wrapped, io.EOF))
	assert.Equal(t, CodeKeyStore, CodeOf(wrapped))
}

func TestHelpersOnNilAndForeignErrors(t *testing.T) {
	assert.False(t, IsQuery(nil))
	assert.False(t, IsIndex(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestWithDayDoesNotMutateOriginal(t *testing.T) {
	base := Newf(CodeIntegrity, "verify", "chain mismatch at %d", 3)
	annotated := base.WithDay("2025-06-02").WithEvent("evt:x")

	assert.Empty(t, base.Day)
	assert.Equal(t, "2025-06-02", annotated.Day)
	assert.Equal(t, "evt:x", annotated.EventID)
	assert.True(t, IsIntegrity(annotated))
}
