// Package chat is the ingestion side of the bot.
//
// Every inbound message, whether pushed by the Chatwork webhook, pulled by the
// Poller or injected through the manual trigger endpoint, becomes an
// InboundEvent and goes through Pipeline.Ingest:
//
//   - the event is validated; malformed input is rejected before any side effect
//   - it is appended to the message log once; a re-delivery of the same
//     (room, message, event type) stops here
//   - created messages are counted for the daily ranking, rebuilding the
//     room's tally from history first when the process has none
//   - the command router decides the replies, which are posted in order
//     through the rate-governed client
//
// Persistence and send failures are logged and skipped; they never fail the
// ingestion of the event itself.
package chat
