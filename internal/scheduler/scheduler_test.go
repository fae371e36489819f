package scheduler_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amartin755/tcppump/internal/frame"
	"github.com/amartin755/tcppump/internal/item"
	"github.com/amartin755/tcppump/internal/netio"
	"github.com/amartin755/tcppump/internal/scheduler"
)

func plainFrame(t *testing.T) *frame.Frame {
	t.Helper()
	f := frame.New(frame.MaxUntagged)
	f.SetSrcMAC(net.HardwareAddr{0x02, 0, 0, 0, 0, 1})
	f.SetDstMAC(net.HardwareAddr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	f.SetTypeLength(uint16(frame.EtherTypeIPv4))
	require.NoError(t, f.SetPayload([]byte{1, 2, 3}))
	return f
}

func TestRunSendsEveryFrameOnce(t *testing.T) {
	seq := &item.Sequence{}
	seq.Append(item.NewFrame(plainFrame(t), 0, 1))
	seq.Append(item.NewFrame(plainFrame(t), 0, 2))

	mock := netio.NewMock()
	s := &scheduler.Scheduler{Iface: mock, Repeat: 1}

	require.NoError(t, s.Run(context.Background(), seq))
	require.Len(t, mock.Sent(), 2)
}

func TestRunRepeatsConfiguredCount(t *testing.T) {
	seq := &item.Sequence{}
	seq.Append(item.NewFrame(plainFrame(t), 0, 1))

	mock := netio.NewMock()
	s := &scheduler.Scheduler{Iface: mock, Repeat: 3}

	require.NoError(t, s.Run(context.Background(), seq))
	require.Len(t, mock.Sent(), 3)
}

func TestRunAbortsOnSendFailure(t *testing.T) {
	seq := &item.Sequence{}
	seq.Append(item.NewFrame(plainFrame(t), 0, 1))

	mock := netio.NewMock()
	mock.FailSends(true)
	s := &scheduler.Scheduler{Iface: mock, Repeat: 1}

	require.Error(t, s.Run(context.Background(), seq))
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	seq := &item.Sequence{}
	seq.Append(item.NewFrame(plainFrame(t), 0, 1))

	mock := netio.NewMock()
	s := &scheduler.Scheduler{Iface: mock, Repeat: scheduler.RepeatForever}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx, seq))
	require.NotEmpty(t, mock.Sent())
}
