// Package agent runs the bounded model/tool loop of a chat turn.
//
// A Loop alternates between three states until it is done:
//
//  1. awaiting_model   – the model is called with the history, the system
//     instruction and the tool definitions; text streams out as it arrives
//  2. executing_tools  – every proposed call runs through the Executor in
//     parallel, results are collected in call order
//  3. evaluating_stop  – the StopCondition sees every StepRecord so far
//
// A step without tool calls ends the turn. The default stop condition halts
// after ten steps or when the last tool result of a step asks to stop.
//
// Tool failures are reported back to the model as function responses so it
// can correct itself. A missing execution context or a corrupted cache entry
// aborts the turn instead.
//
// The package keeps model, tool and persistence concerns in their own
// packages; it only wires them together.
package agent
