package enroll

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/vigil-core/internal/operator"
)

// openTestDB returns an in-memory SQLite database with the enrollment schema.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE invites (
			code       TEXT PRIMARY KEY,
			device_id  TEXT NOT NULL,
			issued_by  TEXT NOT NULL,
			used       INTEGER NOT NULL DEFAULT 0,
			used_by    TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			used_at    TEXT
		);
		CREATE TABLE join_requests (
			identity     TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			invite_code  TEXT NOT NULL,
			device_id    TEXT NOT NULL,
			created_at   TEXT NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}
	return db
}

// mockOperators is an in-memory operator store.
type mockOperators struct {
	operators map[string]*operator.Operator
	links     map[string][]string
}

func newMockOperators() *mockOperators {
	return &mockOperators{
		operators: make(map[string]*operator.Operator),
		links:     make(map[string][]string),
	}
}

func (m *mockOperators) GetByID(_ context.Context, id string) (*operator.Operator, error) {
	op, ok := m.operators[id]
	if !ok {
		return nil, operator.ErrNotFound
	}
	return op, nil
}

func (m *mockOperators) Create(_ context.Context, op *operator.Operator) error {
	if _, ok := m.operators[op.ID]; ok {
		return operator.ErrExists
	}
	m.operators[op.ID] = op
	m.links[op.ID] = append([]string(nil), op.DeviceIDs...)
	return nil
}

func (m *mockOperators) LinkDevice(_ context.Context, operatorID, deviceID string) error {
	if _, ok := m.operators[operatorID]; !ok {
		return operator.ErrNotFound
	}
	m.links[operatorID] = append(m.links[operatorID], deviceID)
	return nil
}

func newTestService(t *testing.T) (*Service, *mockOperators) {
	t.Helper()
	ops := newMockOperators()
	svc := NewService(NewSQLiteRepository(openTestDB(t)), ops, "vigil_bot")
	return svc, ops
}

// ─── Invites ───

func TestIssueInvite(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	inv, err := svc.IssueInvite(ctx, "alarm-01", "9000")
	if err != nil {
		t.Fatalf("IssueInvite() error = %v", err)
	}
	if inv.Code == "" {
		t.Fatal("invite should carry a generated code")
	}
	if inv.Used {
		t.Error("fresh invite must be unused")
	}

	link := svc.DeepLink(inv.Code)
	if !strings.Contains(link, "vigil_bot") || !strings.Contains(link, inv.Code) {
		t.Errorf("DeepLink() = %q", link)
	}
}

func TestQRCode(t *testing.T) {
	svc, _ := newTestService(t)

	png, err := svc.QRCode("some-code")
	if err != nil {
		t.Fatalf("QRCode() error = %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("QRCode() should return PNG data")
	}
}

// ─── Redemption ───

func TestRedeem(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	inv, _ := svc.IssueInvite(ctx, "alarm-01", "9000")

	req, err := svc.Redeem(ctx, "5555", "Nina", inv.Code)
	if err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if req.DeviceID != "alarm-01" {
		t.Errorf("DeviceID = %s, want alarm-01", req.DeviceID)
	}

	// Redeeming does not burn the invite; approval does.
	got, _ := svc.repo.GetInvite(ctx, inv.Code)
	if got.Used {
		t.Error("invite must stay unused until approval")
	}
}

func TestRedeem_UnknownCode(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Redeem(context.Background(), "5555", "Nina", "bogus"); !errors.Is(err, ErrInvalidInvite) {
		t.Errorf("Redeem(bogus) error = %v, want ErrInvalidInvite", err)
	}
}

func TestRedeem_DuplicateRequest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	inv, _ := svc.IssueInvite(ctx, "alarm-01", "9000")

	_, _ = svc.Redeem(ctx, "5555", "Nina", inv.Code)
	if _, err := svc.Redeem(ctx, "5555", "Nina", inv.Code); !errors.Is(err, ErrRequestExists) {
		t.Errorf("second Redeem() error = %v, want ErrRequestExists", err)
	}
}

// ─── Approval ───

func TestApprove_CreatesOperator(t *testing.T) {
	svc, ops := newTestService(t)
	ctx := context.Background()
	inv, _ := svc.IssueInvite(ctx, "alarm-01", "9000")
	_, _ = svc.Redeem(ctx, "5555", "Nina", inv.Code)

	req, err := svc.Approve(ctx, "5555")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if req.Identity != "5555" {
		t.Errorf("Identity = %s", req.Identity)
	}

	op, ok := ops.operators["5555"]
	if !ok {
		t.Fatal("operator should be created on approval")
	}
	if op.Role != operator.RoleUser || !op.IsActive {
		t.Errorf("operator = %+v, want active user", op)
	}

	// Invite burned, request gone.
	got, _ := svc.repo.GetInvite(ctx, inv.Code)
	if !got.Used || got.UsedBy != "5555" {
		t.Errorf("invite after approval = %+v, want used by 5555", got)
	}
	if _, err := svc.repo.GetJoinRequest(ctx, "5555"); !errors.Is(err, ErrNoJoinRequest) {
		t.Error("join request should be consumed by approval")
	}
}

func TestApprove_ExistingOperatorGainsLink(t *testing.T) {
	svc, ops := newTestService(t)
	ctx := context.Background()

	_ = ops.Create(ctx, &operator.Operator{
		ID: "5555", DisplayName: "Nina", Role: operator.RoleUser,
		IsActive: true, DeviceIDs: []string{"alarm-02"},
	})

	inv, _ := svc.IssueInvite(ctx, "alarm-01", "9000")
	_, _ = svc.Redeem(ctx, "5555", "Nina", inv.Code)

	if _, err := svc.Approve(ctx, "5555"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	links := ops.links["5555"]
	if len(links) != 2 || links[1] != "alarm-01" {
		t.Errorf("links = %v, want alarm-02 plus alarm-01", links)
	}
}

func TestApprove_NoRequest(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Approve(context.Background(), "ghost"); !errors.Is(err, ErrNoJoinRequest) {
		t.Errorf("Approve(ghost) error = %v, want ErrNoJoinRequest", err)
	}
}

func TestApprovedInviteCannotBeReused(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	inv, _ := svc.IssueInvite(ctx, "alarm-01", "9000")
	_, _ = svc.Redeem(ctx, "5555", "Nina", inv.Code)
	_, _ = svc.Approve(ctx, "5555")

	if _, err := svc.Redeem(ctx, "6666", "Omar", inv.Code); !errors.Is(err, ErrInviteUsed) {
		t.Errorf("Redeem(spent code) error = %v, want ErrInviteUsed", err)
	}
}

// ─── Denial ───

func TestDeny(t *testing.T) {
	svc, ops := newTestService(t)
	ctx := context.Background()
	inv, _ := svc.IssueInvite(ctx, "alarm-01", "9000")
	_, _ = svc.Redeem(ctx, "5555", "Nina", inv.Code)

	if _, err := svc.Deny(ctx, "5555"); err != nil {
		t.Fatalf("Deny() error = %v", err)
	}
	if _, ok := ops.operators["5555"]; ok {
		t.Error("denial must not create an operator")
	}

	// The invite survives a denial and can be redeemed again.
	if _, err := svc.Redeem(ctx, "6666", "Omar", inv.Code); err != nil {
		t.Errorf("Redeem() after denial error = %v", err)
	}
}

// ─── Repository Edge Cases ───

func TestBurnInvite_Atomic(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	inv := &Invite{Code: "c-1", DeviceID: "alarm-01", IssuedBy: "9000"}
	if err := repo.CreateInvite(ctx, inv); err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}

	if err := repo.BurnInvite(ctx, "c-1", "5555"); err != nil {
		t.Fatalf("first BurnInvite() error = %v", err)
	}
	if err := repo.BurnInvite(ctx, "c-1", "6666"); !errors.Is(err, ErrInviteUsed) {
		t.Errorf("second BurnInvite() error = %v, want ErrInviteUsed", err)
	}
	if err := repo.BurnInvite(ctx, "ghost", "5555"); !errors.Is(err, ErrInvalidInvite) {
		t.Errorf("BurnInvite(ghost) error = %v, want ErrInvalidInvite", err)
	}
}
