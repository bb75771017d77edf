package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunSagaStopsAndCompensatesInReverse(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	boom := errors.New("step three broke")
	var trace []string

	mk := func(name string, fail bool) step {
		return step{
			name: name,
			run: func(context.Context) error {
				trace = append(trace, "run:"+name)
				if fail {
					return boom
				}
				return nil
			},
			compensate: func(context.Context) error {
				trace = append(trace, "undo:"+name)
				return nil
			},
		}
	}

	err := runSaga(context.Background(), logger, []step{
		mk("one", false),
		mk("two", false),
		mk("three", true),
		mk("four", false),
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"run:one", "run:two", "run:three", "undo:two", "undo:one"}, trace)
}

func TestRunSagaCompensationErrorDoesNotMaskFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	boom := errors.New("payment rejected")
	undone := false

	err := runSaga(context.Background(), logger, []step{
		{
			name: "reserve",
			run:  func(context.Context) error { return nil },
			compensate: func(context.Context) error {
				undone = true
				return errors.New("release hiccup")
			},
		},
		{
			name: "charge",
			run:  func(context.Context) error { return boom },
		},
	})
	require.ErrorIs(t, err, boom)
	require.True(t, undone)
}

func TestRunSagaSkipsNilCompensation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := runSaga(context.Background(), logger, []step{
		{name: "confirm", run: func(context.Context) error { return nil }},
	})
	require.NoError(t, err)
}
