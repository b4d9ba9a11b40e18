package conflict

import (
	"reflect"
	"testing"

	"github.com/tahseelapp/tahseel/internal/collection"
)

func fixedResolver(now int64) *Resolver {
	return NewResolverAt(func() int64 { return now })
}

func TestServerAbsentLocalWinsOutright(t *testing.T) {
	r := fixedResolver(9000)
	local := collection.Record{"id": "F1", "paid": 50, "updated_at": int64(2000)}

	got := r.Resolve("fees", local, nil)
	if got.ID() != "F1" || got["paid"] != 50 {
		t.Errorf("got %v", got)
	}
	if _, marked := got[collection.FieldConflictResolution]; marked {
		t.Error("outright win must not carry a conflict marker")
	}
}

func TestLocalAbsentServerWinsOutright(t *testing.T) {
	r := fixedResolver(9000)
	server := collection.Record{"id": "F1", "paid": 0}

	got := r.Resolve("fees", nil, server)
	if got["paid"] != 0 {
		t.Errorf("got %v", got)
	}
}

func TestLocalNewerMergesOntoServerShape(t *testing.T) {
	r := fixedResolver(9000)
	// Client A edited offline at t2; client B's edit reached the server at t1 < t2.
	local := collection.Record{
		"id": "R", "paid": 50,
		"updated_at": int64(1000), "client_updated_at": int64(2000),
	}
	server := collection.Record{
		"id": "R", "paid": 0, "remark": "from B",
		"updated_at": int64(1500),
	}

	got := r.Resolve("fees", local, server)
	if got["paid"] != 50 {
		t.Errorf("paid = %v, want local field to win", got["paid"])
	}
	if got["remark"] != "from B" {
		t.Errorf("remark = %v, want server-only field preserved", got["remark"])
	}
	if got[collection.FieldConflictResolution] != LocalWins {
		t.Errorf("marker = %v, want %s", got[collection.FieldConflictResolution], LocalWins)
	}
	if got.UpdatedAt() != 9000 {
		t.Errorf("updated_at = %d, want fresh stamp 9000", got.UpdatedAt())
	}
}

func TestServerNewerOrEqualWins(t *testing.T) {
	r := fixedResolver(9000)
	local := collection.Record{"id": "R", "paid": 50, "updated_at": int64(1000)}
	server := collection.Record{"id": "R", "paid": 75, "updated_at": int64(1000)}

	got := r.Resolve("fees", local, server)
	if got["paid"] != 75 {
		t.Errorf("paid = %v, want server field to win on tie", got["paid"])
	}
	if got[collection.FieldConflictResolution] != ServerWins {
		t.Errorf("marker = %v, want %s", got[collection.FieldConflictResolution], ServerWins)
	}
}

func TestResolveDeterministic(t *testing.T) {
	r := fixedResolver(9000)
	local := collection.Record{"id": "R", "paid": 50, "updated_at": int64(3000)}
	server := collection.Record{"id": "R", "paid": 0, "updated_at": int64(1000)}

	a := r.Resolve("fees", local, server)
	b := r.Resolve("fees", local, server)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("resolve not deterministic: %v vs %v", a, b)
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	r := fixedResolver(9000)
	local := collection.Record{"id": "R", "paid": 50, "updated_at": int64(3000)}
	server := collection.Record{"id": "R", "paid": 0, "updated_at": int64(1000)}

	_ = r.Resolve("fees", local, server)
	if local.UpdatedAt() != 3000 || server["paid"] != 0 {
		t.Error("inputs were mutated")
	}
}

func TestNeedsResolutionTolerance(t *testing.T) {
	if NeedsResolution(1000, 1800) {
		t.Error("a sub-second difference is clock skew, not a conflict")
	}
	if !NeedsResolution(1000, 2500) {
		t.Error("beyond tolerance must be declared a conflict")
	}
	if !NeedsResolution(2500, 1000) {
		t.Error("tolerance applies in both directions")
	}
}

func TestDeleteSuperseded(t *testing.T) {
	if !DeleteSuperseded(1000, 5000) {
		t.Error("a later edit must resurrect over an earlier delete")
	}
	if DeleteSuperseded(1000, 1500) {
		t.Error("within tolerance the delete proceeds")
	}
	if DeleteSuperseded(5000, 1000) {
		t.Error("older server record does not supersede the delete")
	}
}
