package cr

import "testing"

func TestAssembleSBDataOrdering(t *testing.T) {
	bag := NewTransactionBag([]Transaction{
		tx("kv_set", "a", "1"),
		tx("kv_set", "b", "2"),
	}, nil, hash0, nil)
	results := map[int]ExecResult{
		1: {Status: StatusSuccess, Response: []byte("ok"), Stamps: 1},
		0: {Status: StatusSuccess, Response: []byte("ok"), Stamps: 1},
	}
	mods := []map[string][]byte{
		{"a": []byte("1")},
		{"b": []byte("2")},
	}

	data, err := AssembleSBData(bag, results, mods)
	if err != nil {
		t.Fatal(err)
	}
	if data.InputHash != hash0 {
		t.Errorf("input hash = %s", data.InputHash)
	}
	if len(data.TxData) != 2 {
		t.Fatalf("expected 2 records, got %d", len(data.TxData))
	}
	if data.TxData[0].Contract.Idx != 0 || data.TxData[1].Contract.Idx != 1 {
		t.Error("records not ordered by transaction index")
	}
	if data.TxData[0].State != `{"a":"1"}` || data.TxData[1].State != `{"b":"2"}` {
		t.Errorf("states = %s / %s", data.TxData[0].State, data.TxData[1].State)
	}
}

// failed transactions carry an empty state and do not consume a
// modification entry
func TestAssembleSBDataFailedTx(t *testing.T) {
	bag := NewTransactionBag([]Transaction{
		tx("kv_set", "a", "1"),
		tx("boom"),
		tx("kv_set", "c", "3"),
	}, nil, hash0, nil)
	results := map[int]ExecResult{
		0: {Status: StatusSuccess},
		1: {Status: StatusError, Response: []byte("fail")},
		2: {Status: StatusSuccess},
	}
	mods := []map[string][]byte{
		{"a": []byte("1")},
		{"c": []byte("3")},
	}

	data, err := AssembleSBData(bag, results, mods)
	if err != nil {
		t.Fatal(err)
	}
	if data.TxData[0].State != `{"a":"1"}` {
		t.Errorf("tx 0 state = %s", data.TxData[0].State)
	}
	if data.TxData[1].State != "" {
		t.Errorf("failed tx state = %q, expected empty", data.TxData[1].State)
	}
	if data.TxData[2].State != `{"c":"3"}` {
		t.Errorf("tx 2 state = %s (modification cursor misaligned)", data.TxData[2].State)
	}
}

func TestAssembleSBDataMismatch(t *testing.T) {
	bag := NewTransactionBag([]Transaction{
		tx("kv_set", "a", "1"),
		tx("kv_set", "b", "2"),
	}, nil, hash0, nil)
	results := map[int]ExecResult{0: {Status: StatusSuccess}}

	if _, err := AssembleSBData(bag, results, nil); err == nil {
		t.Error("expected a mismatch error")
	}
}

func TestEncodeStateDeterministic(t *testing.T) {
	mods := map[string][]byte{"z": []byte("26"), "a": []byte("1"), "m": []byte("13")}
	expected := `{"a":"1","m":"13","z":"26"}`
	for i := 0; i < 10; i++ {
		if got := encodeState(mods); got != expected {
			t.Fatalf("encoding not deterministic: %s", got)
		}
	}
}
