// Package storage provides the persistence layer used by the bot.
//
// It holds three independent tables:
//   - Channel schedules (enabled flag, interval, last dispatch time)
//   - The append-only answer log (one record per correct answer)
//   - Users who started the bot privately
//
// All scores are derived from the answer log on demand.
package storage
