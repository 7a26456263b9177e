package message

import (
	"testing"

	"SanteProject/global"
	chatmodel "SanteProject/module/chat/model"
	"SanteProject/tools/errs"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	sess := global.NewSession("sess-1", "patient-1", "clinic-7")
	return NewEngine(NewStore("conv-1"), sess)
}

// 规范里的主场景：离线发 "Bonjour"（tmp-1）→ 网络恢复，REST 确认
// srv-42 → socket 又推了一遍同一条。最终必须恰好一条 SENT，id srv-42。
func TestOptimisticEchoResolution(t *testing.T) {
	e := newEngine(t)

	local := pendingMsg("tmp-1", "patient-1", "Bonjour", 100)
	e.ApplyLocal(local)

	ack := srvMsg("srv-42", "patient-1", "Bonjour", 150)
	ack.ID.Local = "tmp-1"
	e.Apply(ack)

	// socket 晚到的重复投递
	e.Apply(srvMsg("srv-42", "patient-1", "Bonjour", 150))

	snap := e.Store().Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(snap))
	}
	m := snap[0]
	if m.Key() != "srv-42" {
		t.Fatalf("expected server id srv-42, got %s", m.Key())
	}
	if m.DeliveryState != chatmodel.DeliverySent {
		t.Fatalf("expected SENT, got %v", m.DeliveryState)
	}
	if e.Store().Get("tmp-1") != nil {
		t.Fatal("local id survived reconciliation")
	}
}

// socket 比 REST 确认先到：srv-42 先入库，确认回包不能造出第二条。
func TestEchoWhenSocketBeatsAck(t *testing.T) {
	e := newEngine(t)
	e.ApplyLocal(pendingMsg("tmp-1", "patient-1", "Bonjour", 100))

	// socket 推送不带 client_msg_id：内容匹配路径
	e.Apply(srvMsg("srv-42", "patient-1", "Bonjour", 150))

	if n := e.Store().Len(); n != 1 {
		t.Fatalf("socket echo produced %d entries", n)
	}

	// REST 确认带 client_msg_id 再到：键冲突路径，幂等合并
	ack := srvMsg("srv-42", "patient-1", "Bonjour", 150)
	ack.ID.Local = "tmp-1"
	e.Apply(ack)

	if n := e.Store().Len(); n != 1 {
		t.Fatalf("ack after socket echo produced %d entries", n)
	}
}

func TestDuplicatePagesAreIdempotent(t *testing.T) {
	e := newEngine(t)
	page := []*chatmodel.Message{
		srvMsg("srv-1", "doctor-9", "a", 100),
		srvMsg("srv-2", "doctor-9", "b", 200),
	}
	e.ApplyPage(page)
	// 分页重叠：同一页再来一遍
	e.ApplyPage(page)
	e.ApplyPage([]*chatmodel.Message{
		srvMsg("srv-2", "doctor-9", "b", 200),
		srvMsg("srv-3", "doctor-9", "c", 300),
	})

	if n := e.Store().Len(); n != 3 {
		t.Fatalf("expected 3 messages, got %d", n)
	}
}

func TestPeerMessageIsFreshInsert(t *testing.T) {
	e := newEngine(t)
	e.ApplyLocal(pendingMsg("tmp-1", "patient-1", "ok", 100))
	e.Apply(srvMsg("srv-1", "doctor-9", "ok", 150))

	if n := e.Store().Len(); n != 2 {
		t.Fatalf("peer message was merged into my pending entry: %d entries", n)
	}
}

func TestTwoRapidIdenticalSendsResolveFIFO(t *testing.T) {
	e := newEngine(t)
	e.ApplyLocal(pendingMsg("tmp-1", "patient-1", "ok", 100))
	e.ApplyLocal(pendingMsg("tmp-2", "patient-1", "ok", 110))

	e.Apply(srvMsg("srv-1", "patient-1", "ok", 120))
	e.Apply(srvMsg("srv-2", "patient-1", "ok", 130))

	snap := e.Store().Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap))
	}
	for _, m := range snap {
		if m.ID.IsLocal() || m.DeliveryState != chatmodel.DeliverySent {
			t.Fatalf("unresolved entry: %s state=%v", m.Key(), m.DeliveryState)
		}
	}
}

func TestLateAckSupersedesWatchdogFailure(t *testing.T) {
	e := newEngine(t)
	e.ApplyLocal(pendingMsg("tmp-1", "patient-1", "slow", 100))
	e.Fail("tmp-1", errs.CodeTransientNetwork)

	ack := srvMsg("srv-7", "patient-1", "slow", 160)
	ack.ID.Local = "tmp-1"
	e.Apply(ack)

	snap := e.Store().Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected single entry, got %d", len(snap))
	}
	if snap[0].Key() != "srv-7" || snap[0].DeliveryState != chatmodel.DeliverySent {
		t.Fatalf("late ack did not win: %s %v", snap[0].Key(), snap[0].DeliveryState)
	}
}

func TestOutOfOrderPushKeepsTimeline(t *testing.T) {
	e := newEngine(t)
	e.Apply(srvMsg("srv-1", "doctor-9", "t1", 100))
	e.Apply(srvMsg("srv-3", "doctor-9", "t3", 300))
	e.Apply(srvMsg("srv-2", "doctor-9", "t2", 200))

	snap := e.Store().Snapshot()
	want := []string{"srv-1", "srv-2", "srv-3"}
	for i, m := range snap {
		if m.Key() != want[i] {
			t.Fatalf("timeline out of order: %d -> %s", i, m.Key())
		}
	}
}
