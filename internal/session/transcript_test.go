package session

import "testing"

func interim(text string) TranscriptLine  { return TranscriptLine{Text: text, Final: false} }
func finalLn(text string) TranscriptLine  { return TranscriptLine{Text: text, Final: true} }

func texts(lines []TranscriptLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func TestTranscriptLog_ConsecutiveInterimsCollapse(t *testing.T) {
	var log TranscriptLog

	log.Add(interim("hel"))
	log.Add(interim("hello"))
	log.Add(interim("hello wor"))

	lines := log.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected interims to collapse to 1 line, got %d: %v", len(lines), texts(lines))
	}
	if lines[0].Text != "hello wor" {
		t.Errorf("expected latest interim to win, got %q", lines[0].Text)
	}
}

func TestTranscriptLog_FinalReplacesPendingInterim(t *testing.T) {
	var log TranscriptLog

	log.Add(interim("hello wor"))
	log.Add(finalLn("hello world"))

	lines := log.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected final to replace pending interim, got %d lines", len(lines))
	}
	if !lines[0].Final || lines[0].Text != "hello world" {
		t.Errorf("unexpected line after final: %+v", lines[0])
	}
}

func TestTranscriptLog_AppendsAfterFinal(t *testing.T) {
	var log TranscriptLog

	log.Add(finalLn("first utterance"))
	log.Add(interim("second"))
	log.Add(finalLn("second utterance"))
	log.Add(finalLn("third utterance"))

	got := texts(log.Lines())
	want := []string{"first utterance", "second utterance", "third utterance"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestTranscriptLog_MixedSequenceProperty(t *testing.T) {
	// For any event sequence, the number of lines equals the number of
	// finals plus at most one trailing interim.
	var log TranscriptLog
	events := []TranscriptLine{
		interim("a"), interim("ab"), finalLn("abc"),
		interim("d"), interim("de"), interim("def"), finalLn("defg"),
		interim("h"),
	}
	finals := 0
	for _, e := range events {
		log.Add(e)
		if e.Final {
			finals++
		}
	}

	lines := log.Lines()
	if len(lines) != finals+1 {
		t.Fatalf("expected %d lines (finals + trailing interim), got %d: %v",
			finals+1, len(lines), texts(lines))
	}
	if lines[len(lines)-1].Text != "h" || lines[len(lines)-1].Final {
		t.Errorf("unexpected trailing line: %+v", lines[len(lines)-1])
	}
}

func TestTranscriptLog_Reset(t *testing.T) {
	var log TranscriptLog
	log.Add(finalLn("something"))
	log.Reset()
	if got := log.Lines(); len(got) != 0 {
		t.Errorf("expected empty log after reset, got %d lines", len(got))
	}
}
