// Package rate throttles failed logins with Redis fixed-window counters.
//
// Each window starts on the first failure: INCR followed by EXPIRE when the
// counter is new. Keys are "<prefix>:rl:u:<username>" and, when IP
// throttling is on, "<prefix>:rl:ip:<addr>".
package rate
