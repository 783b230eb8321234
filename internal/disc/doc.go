// Package disc interfaces with physical optical drives and MakeMKV scanning
// utilities.
//
// It provides a scanner that translates MakeMKV robot-mode output into
// structured title/track metadata and an ejector so the orchestrator can
// safely release a disc once ripping finishes. Parsers live here to keep
// low-level device quirks isolated from higher-level workflow code.
package disc
