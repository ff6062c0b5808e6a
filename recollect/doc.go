// Package recollect implements a Discord assistant bot that answers
// messages through an OpenAI-compatible chat completion API, with a layered
// conversational memory.
//
// Memory is kept at three scopes, user, channel and guild. Each scope is a
// small label-keyed summary of facts extracted from recorded messages,
// refreshed on a cadence. Alongside the durable store, a short-term turn
// cache holds the last few exchanges per user for the lifetime of the
// process.
//
// Key components of the package include:
//
//   - Recollect: The composition root. It owns the config, the database,
//     the in-process caches and the Discord, OpenAI and API integrations.
//   - MemoryStore: Persistent settings, channel allowlist, message log,
//     summaries, and the guild user/role cache.
//   - RateLimiter: Per-user cooldown and duplicate-prompt throttle.
//   - TurnCache: Bounded, expiring, per-user conversation window.
//   - Assembler: Gathers context and produces a reply for one request.
//   - CompletionClient: Retrying wrapper around chat completions.
//   - IntentRouter: Answers a few canned questions from the guild cache
//     without calling the model.
//   - API: Admin HTTP API for allowlist and memory management.
//
// Messages in guild channels are only persisted when the channel is on the
// allowlist. Direct messages are always eligible. Users may turn their own
// memory off, or have it forgotten, with the /memory command.
package recollect
