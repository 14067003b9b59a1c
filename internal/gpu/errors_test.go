package gpu

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "plain",
			err:  newError(KindContextCreation, "Bind", "failed to create context", nil),
			want: "gpu ContextCreation error in Bind: failed to create context",
		},
		{
			name: "with cause",
			err:  newError(KindQueueCreation, "Bind", "failed to create queue", errors.New("boom")),
			want: "gpu QueueCreation error in Bind: failed to create queue (caused by: boom)",
		},
		{
			name: "argument index",
			err:  NewArgumentError("Launch", 2, "taps must be read-only", nil),
			want: "gpu ArgumentBinding error in Launch (argument 2): taps must be read-only",
		},
		{
			name: "build log",
			err:  &Error{Kind: KindBuild, Op: "Bind", Message: "failed to build", Index: -1, Log: "<source>:3: error: x\n"},
			want: "gpu Build error in Bind: failed to build\nbuild log:\n<source>:3: error: x\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsAndKindOf(t *testing.T) {
	err := fmt.Errorf("run failed: %w", NewLaunchError("Launch", "rejected", nil))

	assert.True(t, errors.Is(err, ErrLaunch))
	assert.False(t, errors.Is(err, ErrTransfer))
	assert.Equal(t, KindLaunch, KindOf(err))
	assert.Equal(t, Kind(0), KindOf(errors.New("other")))

	var gerr *Error
	assert.True(t, errors.As(err, &gerr))
	assert.Equal(t, -1, gerr.Index)
}

func TestError_Temporary(t *testing.T) {
	transient := newError(KindLaunch, "Launch", "queue full", Transient(errors.New("emulated: command queue full")))
	permanent := newError(KindLaunch, "Launch", "bad range", errors.New("invalid work-group size"))

	assert.True(t, IsTemporary(transient))
	assert.True(t, IsTemporary(fmt.Errorf("wrapped: %w", transient)))
	assert.False(t, IsTemporary(permanent))
	assert.True(t, IsTemporary(Transient(errors.New("bare"))))
	assert.False(t, IsTemporary(errors.New("bare")))
	assert.Nil(t, Transient(nil))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "PlatformEnumeration", KindPlatformEnumeration.String())
	assert.Equal(t, "Transfer", KindTransfer.String())
	assert.Equal(t, "Unknown", Kind(99).String())
}
