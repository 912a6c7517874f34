// Package memory stores conversational records durably and mirrors them into
// a remote vector index for similarity recall.
//
// Invariants:
// - A memory id is created at most once per table; duplicate creates are no-ops.
// - The primary store write always precedes the index mirror write.
// - Index failures degrade search recall, never availability.
// - The all-zero embedding is a placeholder and is never ranked or upserted.
//
// Usage:
//
//	mgr, _ := memory.NewManager(memory.Config{Store: store, Embedder: embedder, Table: "messages"})
//	_ = mgr.CreateMemory(ctx, &memory.Memory{ID: memory.NewID(), RoomID: room, Content: memory.Content{Text: text}}, false)
//	results, _ := mgr.SearchByEmbedding(ctx, queryVector, memory.SearchOptions{RoomID: room, Count: 10})
//	_ = results
package memory
