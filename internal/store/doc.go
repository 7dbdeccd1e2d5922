// Package store persists the response decision audit log in SQLite.
//
// Conversation state is not stored here: it lives in memory in
// the conversation registry and disappears on restart. What is kept is one
// row per start/respond decision, so an operator can see afterwards why the
// responder spoke or stayed quiet in a room.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("responder.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.AppendDecision(ctx, &store.Decision{
//	    ChannelID: "!ops:example.org",
//	    MessageID: "$event",
//	    AuthorID:  "@alice:example.org",
//	    Stage:     store.StageStart,
//	    Respond:   true,
//	    Reason:    "explicit_trigger",
//	})
//
// The database uses modernc.org/sqlite (pure Go) in WAL mode. Old rows are
// removed with PruneDecisions.
package store
