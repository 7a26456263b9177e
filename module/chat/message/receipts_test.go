package message

import (
	"context"
	"testing"

	"SanteProject/tools/errs"
)

// 规范场景：对端 B 广播 conversation:read upto=T2，本端有 3 条
// sentAt <= T2、1 条 > T2：恰好前 3 条获得 B 的已读。
func TestPeerReadPartial(t *testing.T) {
	e := newEngine(t)
	tr := NewReceiptTracker(e)

	e.Apply(srvMsg("srv-1", "patient-1", "m1", 100))
	e.Apply(srvMsg("srv-2", "patient-1", "m2", 200))
	e.Apply(srvMsg("srv-3", "patient-1", "m3", 300))
	e.Apply(srvMsg("srv-4", "patient-1", "m4", 400))

	tr.OnPeerRead("doctor-9", 300)

	for _, key := range []string{"srv-1", "srv-2", "srv-3"} {
		if !e.Store().Get(key).IsReadBy("doctor-9") {
			t.Errorf("%s missing read receipt", key)
		}
	}
	if e.Store().Get("srv-4").IsReadBy("doctor-9") {
		t.Error("srv-4 is past the read cutoff")
	}
}

func TestPeerReadIdempotent(t *testing.T) {
	e := newEngine(t)
	tr := NewReceiptTracker(e)
	e.Apply(srvMsg("srv-1", "patient-1", "m1", 100))

	tr.OnPeerRead("doctor-9", 200)
	tr.OnPeerRead("doctor-9", 200)
	tr.OnPeerRead("doctor-9", 150) // 乱序旧回执

	m := e.Store().Get("srv-1")
	if len(m.ReadBy) != 1 {
		t.Fatalf("readBy not idempotent: %v", m.ReadBy)
	}
}

// 本端已读：服务端确认失败时本地未读必须保持原样（不乐观清零）。
func TestLocalReadRequiresServerConfirmation(t *testing.T) {
	e := newEngine(t)
	tr := NewReceiptTracker(e)
	e.Apply(srvMsg("srv-1", "doctor-9", "hello", 100))

	failing := func(context.Context, string) error {
		return errs.ErrTransientNetwork.Wrap()
	}
	if err := tr.MarkReadLocal(context.Background(), failing); err == nil {
		t.Fatal("expected error from unconfirmed mark-read")
	}
	if e.Store().Get("srv-1").IsReadBy("patient-1") {
		t.Fatal("unread was cleared optimistically")
	}

	ok := func(context.Context, string) error { return nil }
	if err := tr.MarkReadLocal(context.Background(), ok); err != nil {
		t.Fatalf("confirmed mark-read failed: %v", err)
	}
	if !e.Store().Get("srv-1").IsReadBy("patient-1") {
		t.Fatal("confirmed mark-read did not clear unread")
	}
}
