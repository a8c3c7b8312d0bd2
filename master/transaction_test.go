package master

import "testing"

func TestAllocateNeverReturnsZero(t *testing.T) {
	table := newTransactionTable()

	for i := 0; i < maxTransactions; i++ {
		id, _, err := table.allocate()
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if id == 0 {
			t.Fatal("allocate returned transaction id 0")
		}
	}
}

func TestAllocateWrapsAfterRelease(t *testing.T) {
	table := newTransactionTable()

	first, _, err := table.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	table.release(first)

	for i := 0; i < maxTransactions-1; i++ {
		if _, _, err := table.allocate(); err != nil {
			t.Fatalf("allocate: %v", err)
		}
	}

	id, _, err := table.allocate()
	if err != nil {
		t.Fatalf("allocate after wrap: %v", err)
	}
	if id != first {
		t.Fatalf("expected wrap to reuse id %d, got %d", first, id)
	}
}

func TestAllocateRejectsBeyondCapacity(t *testing.T) {
	table := newTransactionTable()

	for i := 0; i < maxTransactions; i++ {
		if _, _, err := table.allocate(); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}

	if _, _, err := table.allocate(); err == nil {
		t.Fatal("expected an error allocating beyond capacity")
	}
}

func TestCompleteDeliversExactlyOnce(t *testing.T) {
	table := newTransactionTable()
	id, ch, err := table.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if !table.complete(id, nil, nil) {
		t.Fatal("complete reported no waiter for a freshly allocated id")
	}
	if table.complete(id, nil, nil) {
		t.Fatal("complete delivered a second result for the same id")
	}

	select {
	case <-ch:
	default:
		t.Fatal("result channel was never written to")
	}
}

func TestFailAllUnblocksEveryPendingRequest(t *testing.T) {
	table := newTransactionTable()

	var channels []chan txnResult
	for i := 0; i < 5; i++ {
		_, ch, err := table.allocate()
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		channels = append(channels, ch)
	}

	wantErr := errTestFailAll
	table.failAll(wantErr)

	for i, ch := range channels {
		select {
		case res := <-ch:
			if res.err != wantErr {
				t.Fatalf("channel %d: got err %v, want %v", i, res.err, wantErr)
			}
		default:
			t.Fatalf("channel %d was never completed by failAll", i)
		}
	}
}

var errTestFailAll = &testError{"connection lost"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
