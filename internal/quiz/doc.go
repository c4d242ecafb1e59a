// Package quiz is the quiz core: the interval scheduler that dispatches
// questions to due chats, the registry of open questions, the correlator that
// turns poll answers into answer log entries, and the ranking aggregator.
//
// The scheduler and correlator share only the Registry. Scores are always
// recomputed from the answer log; nothing is cached.
package quiz
