package state

import (
	"context"
	"encoding/json"
	"strings"
)

const ExecutionKey = "execution:last_state"

func LoadExecution(ctx context.Context, store Store) (Snapshot, bool, error) {
	if store == nil {
		return Snapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, ExecutionKey)
	if err != nil {
		return Snapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return Snapshot{}, false, nil
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveExecution(ctx context.Context, store Store, snapshot Snapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, ExecutionKey, string(payload))
}
