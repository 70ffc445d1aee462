package directory

import (
	"context"
	"errors"
	"testing"

	"collabCore/backend/internal/events"
	"collabCore/backend/internal/op"
	"collabCore/backend/internal/oplog"
	"collabCore/backend/internal/presence"
	"collabCore/backend/internal/vcs"
)

func newTestDirectory(t *testing.T) (*Directory, *events.Bus) {
	t.Helper()
	bus := events.NewBus(events.BusOptions{})
	t.Cleanup(bus.Close)
	tracker := presence.NewTracker(presence.DefaultOptions(), bus)
	return New(oplog.NewInMemoryLog(), tracker, bus, nil, vcs.NewStore(vcs.DefaultOptions()), nil), bus
}

func TestDirectory_CreateWorkspaceOwnerHasAllRoles(t *testing.T) {
	d, _ := newTestDirectory(t)
	ws, err := d.CreateWorkspace(context.Background(), "valuation", "alice")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	for name, set := range map[string]map[string]struct{}{
		"members": ws.Members, "read": ws.Read, "write": ws.Write, "admin": ws.Admin,
	} {
		if _, ok := set["alice"]; !ok {
			t.Fatalf("owner missing from %s set", name)
		}
	}
}

func TestDirectory_InviteRequiresAdmin(t *testing.T) {
	d, _ := newTestDirectory(t)
	ws, _ := d.CreateWorkspace(context.Background(), "valuation", "alice")
	_ = d.JoinWorkspace(ws.ID, "bob") // bob 只有读写

	if err := d.Invite(ws.ID, "bob", "carol", RoleRead); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if err := d.Invite(ws.ID, "alice", "carol", RoleRead); err != nil {
		t.Fatalf("Invite() error = %v", err)
	}

	// read-only 成员不能建文档
	if _, err := d.CreateDocument(context.Background(), ws.ID, "carol", nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
}

func TestDirectory_InviteUnknownRoleIsReadOnly(t *testing.T) {
	d, _ := newTestDirectory(t)
	ws, _ := d.CreateWorkspace(context.Background(), "valuation", "alice")

	// role 拼错只给读权限，不能静默升级成写
	if err := d.Invite(ws.ID, "alice", "carol", Role("editer")); err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	if _, err := d.CreateDocument(context.Background(), ws.ID, "carol", nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}

	got, _ := d.GetWorkspace(ws.ID)
	if _, ok := got.Read["carol"]; !ok {
		t.Fatalf("invitee missing from read set")
	}
	if _, ok := got.Write["carol"]; ok {
		t.Fatalf("unknown role granted write")
	}
}

func TestDirectory_GetWorkspaceReturnsSnapshot(t *testing.T) {
	d, _ := newTestDirectory(t)
	ws, _ := d.CreateWorkspace(context.Background(), "valuation", "alice")

	before, err := d.GetWorkspace(ws.ID)
	if err != nil {
		t.Fatalf("GetWorkspace() error = %v", err)
	}
	_ = d.JoinWorkspace(ws.ID, "bob")

	// 已取出的快照不随后续成员变动而变
	if _, ok := before.Members["bob"]; ok {
		t.Fatalf("snapshot mutated by later join")
	}
	// 改快照也不能污染目录里的状态
	before.Members["mallory"] = struct{}{}
	after, _ := d.GetWorkspace(ws.ID)
	if _, ok := after.Members["mallory"]; ok {
		t.Fatalf("snapshot shares member set with directory")
	}
}

func TestDirectory_ApplyEditPermissionAndVersion(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()
	ws, _ := d.CreateWorkspace(ctx, "valuation", "alice")
	doc, err := d.CreateDocument(ctx, ws.ID, "alice", map[string]any{"wacc": 0.08})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}

	// 非成员直接拒绝
	edit := &op.Operation{Kind: op.KindUpdate, Path: "wacc", Value: 0.10}
	if _, _, err := d.ApplyEdit(ctx, doc.ID, edit, "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}

	applied, state, err := d.ApplyEdit(ctx, doc.ID, &op.Operation{Kind: op.KindUpdate, Path: "wacc", Value: 0.10}, "alice")
	if err != nil {
		t.Fatalf("ApplyEdit() error = %v", err)
	}
	if applied.ID == "" {
		t.Fatalf("applied op has no identity")
	}
	if state["wacc"] != 0.10 {
		t.Fatalf("state = %v", state)
	}

	got, _ := d.GetDocument(doc.ID)
	if got.Version != 1 {
		t.Fatalf("version = %d, want 1", got.Version)
	}

	// 校验失败不推进版本
	if _, _, err := d.ApplyEdit(ctx, doc.ID, &op.Operation{Kind: "bogus", Path: "x"}, "alice"); !errors.Is(err, op.ErrInvalidOperation) {
		t.Fatalf("error = %v, want ErrInvalidOperation", err)
	}
	got, _ = d.GetDocument(doc.ID)
	if got.Version != 1 {
		t.Fatalf("version moved on invalid op: %d", got.Version)
	}
}

func TestDirectory_DeleteWorkspaceAdminOnly(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()
	ws, _ := d.CreateWorkspace(ctx, "valuation", "alice")
	doc, _ := d.CreateDocument(ctx, ws.ID, "alice", nil)
	_ = d.JoinWorkspace(ws.ID, "bob")

	if err := d.DeleteWorkspace(ws.ID, "bob"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if err := d.DeleteWorkspace(ws.ID, "alice"); err != nil {
		t.Fatalf("DeleteWorkspace() error = %v", err)
	}
	// 文档跟着工作区一起删
	if _, err := d.GetDocument(doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("error = %v, want ErrDocumentNotFound", err)
	}
}

func TestDirectory_SnapshotToRepository(t *testing.T) {
	d, bus := newTestDirectory(t)
	commits := bus.Subscribe(events.TypeCommitCreated)
	ctx := context.Background()
	ws, _ := d.CreateWorkspace(ctx, "valuation", "alice")
	doc, _ := d.CreateDocument(ctx, ws.ID, "alice", map[string]any{
		"assumptions": map[string]any{"wacc": 0.08},
	})
	_, _, err := d.ApplyEdit(ctx, doc.ID, &op.Operation{Kind: op.KindUpdate, Path: "assumptions.growth", Value: 0.02}, "alice")
	if err != nil {
		t.Fatalf("ApplyEdit() error = %v", err)
	}

	commit, err := d.SnapshotToRepository(doc.ID, "alice", "first cut", vcs.CommitManual)
	if err != nil {
		t.Fatalf("SnapshotToRepository() error = %v", err)
	}
	// 提交内容是压平后的路径快照
	if commit.Changes["assumptions.wacc"] != 0.08 || commit.Changes["assumptions.growth"] != 0.02 {
		t.Fatalf("changes = %v", commit.Changes)
	}

	select {
	case evt := <-commits:
		if evt.Type != events.TypeCommitCreated {
			t.Fatalf("event = %+v", evt)
		}
	default:
		// 总线异步派发，没收到也不算失败；提交本身已经验证
	}

	// 再快照走同一个仓库
	if _, err := d.SnapshotToRepository(doc.ID, "alice", "second cut", vcs.CommitAuto); err != nil {
		t.Fatalf("second snapshot error = %v", err)
	}
}

func TestDirectory_CanAccess(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()
	ws, _ := d.CreateWorkspace(ctx, "valuation", "alice")
	doc, _ := d.CreateDocument(ctx, ws.ID, "alice", nil)

	if !d.CanAccess(doc.ID, "alice") {
		t.Fatalf("owner denied access")
	}
	if d.CanAccess(doc.ID, "mallory") {
		t.Fatalf("outsider granted access")
	}
	if d.CanAccess("missing", "alice") {
		t.Fatalf("missing doc granted access")
	}
}

func TestDirectory_RecordCursor(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()
	ws, _ := d.CreateWorkspace(ctx, "valuation", "alice")
	doc, _ := d.CreateDocument(ctx, ws.ID, "alice", nil)

	cur := d.RecordCursor(doc.ID, "alice", "B2", "B2:C4")
	if cur.Position != "B2" || cur.Color == "" {
		t.Fatalf("cursor = %+v", cur)
	}

	got, _ := d.GetDocument(doc.ID)
	if got.Cursors["alice"] == nil || got.Cursors["alice"].Position != "B2" {
		t.Fatalf("last-known cursor not recorded: %+v", got.Cursors)
	}
}
