package branchqueue

import "testing"

func ref(jobID string) Ref { return Ref{WorkflowID: "w1", JobID: jobID} }

func TestFIFOOrderAndSingleRunningPerKey(t *testing.T) {
	q := New()
	key := Key{TenantID: "t1", Branch: "b1"}

	q.Enqueue(key, ref("a"))
	q.Enqueue(key, ref("b"))

	got, ok := q.TakeIfIdle(key)
	if !ok || got != ref("a") {
		t.Fatalf("TakeIfIdle = (%+v, %v), want (a, true)", got, ok)
	}

	// Second job must not start while the first is running.
	if _, ok := q.TakeIfIdle(key); ok {
		t.Fatal("TakeIfIdle returned a job while key was already running")
	}

	q.MarkDone(key)

	got, ok = q.TakeIfIdle(key)
	if !ok || got != ref("b") {
		t.Fatalf("TakeIfIdle after MarkDone = (%+v, %v), want (b, true)", got, ok)
	}
}

func TestDifferentKeysRunIndependently(t *testing.T) {
	q := New()
	k1 := Key{TenantID: "t1", Branch: "b1"}
	k2 := Key{TenantID: "t1", Branch: "b2"}

	q.Enqueue(k1, ref("a"))
	q.Enqueue(k2, ref("b"))

	if _, ok := q.TakeIfIdle(k1); !ok {
		t.Fatal("expected to take from k1")
	}
	if _, ok := q.TakeIfIdle(k2); !ok {
		t.Fatal("expected to take from k2 while k1 is running")
	}
}

func TestEmptyKeyIsGarbageCollected(t *testing.T) {
	q := New()
	key := Key{TenantID: "t1", Branch: "b1"}

	q.Enqueue(key, ref("a"))
	q.TakeIfIdle(key)
	q.MarkDone(key)

	if len(q.Keys()) != 0 {
		t.Fatalf("Keys() = %v, want empty after drain", q.Keys())
	}
}

func TestRemoveFromQueue(t *testing.T) {
	q := New()
	key := Key{TenantID: "t1", Branch: "b1"}
	q.Enqueue(key, ref("a"))
	q.Enqueue(key, ref("b"))

	if !q.Remove(key, ref("a")) {
		t.Fatal("Remove(a) = false, want true")
	}
	if q.Depth(key) != 1 {
		t.Fatalf("Depth = %d, want 1", q.Depth(key))
	}
	got, ok := q.TakeIfIdle(key)
	if !ok || got != ref("b") {
		t.Fatalf("TakeIfIdle = (%+v, %v), want (b, true)", got, ok)
	}
}

func TestTotalDepthPerTenant(t *testing.T) {
	q := New()
	q.Enqueue(Key{TenantID: "t1", Branch: "b1"}, ref("a"))
	q.Enqueue(Key{TenantID: "t1", Branch: "b2"}, ref("b"))
	q.Enqueue(Key{TenantID: "t2", Branch: "b1"}, ref("c"))

	if got := q.TotalDepth("t1"); got != 2 {
		t.Fatalf("TotalDepth(t1) = %d, want 2", got)
	}
	if got := q.TotalDepth(""); got != 3 {
		t.Fatalf("TotalDepth(\"\") = %d, want 3", got)
	}
}
