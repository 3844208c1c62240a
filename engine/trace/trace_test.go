package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionTrace_RecordsOnlyWhenEnabled(t *testing.T) {
	off := NewSessionTrace(Config{Level: LevelNone})
	off.Record(FrameRecord{FrameIndex: 0})
	assert.Empty(t, off.Frames)

	on := NewSessionTrace(Config{Level: LevelFrames})
	on.Record(FrameRecord{FrameIndex: 0, Reason: "OK"})
	on.Record(FrameRecord{FrameIndex: 1, Reason: "COUNTED", Reps: 1})
	assert.Len(t, on.Frames, 2)
}

func TestSummarize(t *testing.T) {
	st := NewSessionTrace(Config{Level: LevelFrames})
	st.Record(FrameRecord{FrameIndex: 0, Reason: "OK"})
	st.Record(FrameRecord{FrameIndex: 1, Reason: "NO_ENTER(THR)"})
	st.Record(FrameRecord{FrameIndex: 2, Reason: "COUNTED", Reps: 1})

	s := st.Summarize()
	assert.Equal(t, 3, s.Frames)
	assert.Equal(t, 1, s.FinalReps)
	assert.Equal(t, map[string]int{"OK": 1, "NO_ENTER(THR)": 1, "COUNTED": 1}, s.ReasonCount)
}

func TestSummarize_NilTrace(t *testing.T) {
	var st *SessionTrace
	s := st.Summarize()
	assert.Equal(t, 0, s.Frames)
}

func TestIsValidLevel(t *testing.T) {
	assert.True(t, IsValidLevel(""))
	assert.True(t, IsValidLevel("none"))
	assert.True(t, IsValidLevel("frames"))
	assert.False(t, IsValidLevel("verbose"))
}
