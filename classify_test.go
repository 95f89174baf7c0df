package synapse

import "testing"

func TestHeuristicClassifyEpisodic(t *testing.T) {
	c := NewHeuristicClassifier("")
	primary, _ := c.Classify("I remember when they visited last time and came back later")
	if primary != SectorEpisodic {
		t.Errorf("expected episodic, got %s", primary)
	}
}

func TestHeuristicClassifySemantic(t *testing.T) {
	c := NewHeuristicClassifier("")
	primary, _ := c.Classify("Alex likes jazz and prefers vinyl records, usually listens to old albums")
	if primary != SectorSemantic {
		t.Errorf("expected semantic, got %s", primary)
	}
}

func TestHeuristicClassifyEmotional(t *testing.T) {
	c := NewHeuristicClassifier("")
	primary, _ := c.Classify("They seemed happy and excited, really grateful for the warm welcome")
	if primary != SectorEmotional {
		t.Errorf("expected emotional, got %s", primary)
	}
}

func TestHeuristicClassifyProcedural(t *testing.T) {
	c := NewHeuristicClassifier("")
	primary, _ := c.Classify("They know how to do it using a specific technique and method")
	if primary != SectorProcedural {
		t.Errorf("expected procedural, got %s", primary)
	}
}

func TestHeuristicClassifyReflective(t *testing.T) {
	c := NewHeuristicClassifier("")
	primary, _ := c.Classify("I notice that they tend to often consistently do this every time")
	if primary != SectorReflective {
		t.Errorf("expected reflective, got %s", primary)
	}
}

func TestHeuristicClassifyAmbiguousDefaultsSemantic(t *testing.T) {
	c := NewHeuristicClassifier("")
	primary, _ := c.Classify("hello world")
	if primary != SectorSemantic {
		t.Errorf("ambiguous content should default to semantic, got %s", primary)
	}
}

func TestHeuristicClassifyNoGeminiFallbackWithoutKey(t *testing.T) {
	c := NewHeuristicClassifier("")
	// Should not panic or make a network call without an API key.
	primary, _ := c.Classify("something completely ambiguous xyz")
	if primary != SectorSemantic {
		t.Errorf("without an API key, ambiguous should default to semantic, got %s", primary)
	}
}

func TestHeuristicClassifySecondarySectors(t *testing.T) {
	c := NewHeuristicClassifier("")
	// Strong episodic signal plus a secondary emotional one.
	_, secondary := c.Classify("I remember when they visited last time and I felt so happy and grateful")
	found := false
	for _, s := range secondary {
		if s == SectorEmotional {
			found = true
		}
	}
	if !found {
		t.Errorf("expected emotional as a secondary sector, got %v", secondary)
	}
}

func TestExtractBracketNames(t *testing.T) {
	e := &DefaultEntityExtractor{}
	entities := e.Extract("[PlayerOne]: hello there")
	found := false
	for _, ent := range entities {
		if ent.Text == "PlayerOne" && ent.Type == "person" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected person entity 'PlayerOne', got %v", entities)
	}
}

func TestExtractQuotedStrings(t *testing.T) {
	e := &DefaultEntityExtractor{}
	entities := e.Extract(`she ordered a "Nebula Fizz" at the bar`)
	found := false
	for _, ent := range entities {
		if ent.Text == "Nebula Fizz" && ent.Type == "topic" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected topic entity 'Nebula Fizz', got %v", entities)
	}
}

func TestExtractKnownEntities(t *testing.T) {
	e := NewDefaultEntityExtractor(map[string]string{
		"aphex twin":       "music_artist",
		"boards of canada": "music_artist",
	})
	entities := e.Extract("they were listening to aphex twin while coding")
	found := false
	for _, ent := range entities {
		if ent.Text == "aphex twin" && ent.Type == "music_artist" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected music_artist 'aphex twin', got %v", entities)
	}
}

func TestExtractCapitalizedPhrases(t *testing.T) {
	e := &DefaultEntityExtractor{}
	entities := e.Extract("they went to Harajuku Station last weekend")
	found := false
	for _, ent := range entities {
		if ent.Text == "Harajuku Station" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected topic 'Harajuku Station', got %v", entities)
	}
}

func TestExtractDeduplication(t *testing.T) {
	e := &DefaultEntityExtractor{}
	entities := e.Extract(`[Alex]: hello | [Alex]: goodbye`)
	count := 0
	for _, ent := range entities {
		if ent.Text == "Alex" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected 1 deduplicated entity, got %d", count)
	}
}

func TestExtractFiltersShortStrings(t *testing.T) {
	e := &DefaultEntityExtractor{}
	entities := e.Extract(`"x" is not a real entity`)
	for _, ent := range entities {
		if ent.Text == "x" {
			t.Errorf("single-char strings should be filtered out")
		}
	}
}

func TestExtractCommonPhrasesFiltered(t *testing.T) {
	e := &DefaultEntityExtractor{}
	entities := e.Extract("I Am sure about this. You Are welcome.")
	for _, ent := range entities {
		if ent.Text == "I Am" || ent.Text == "You Are" {
			t.Errorf("common phrase '%s' should be filtered", ent.Text)
		}
	}
}
