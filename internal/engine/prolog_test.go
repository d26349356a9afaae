package engine

import "testing"

func mustConsult(t *testing.T, d *db, src string) {
	t.Helper()
	clauses, err := parseConsultText(src)
	if err != nil {
		t.Fatalf("parseConsultText(%q): %v", src, err)
	}
	for _, c := range clauses {
		d.assertz(c.head, c.body)
	}
}

func TestSolveFactLookup(t *testing.T) {
	d := newDB()
	mustConsult(t, d, `parent(tom, bob).
parent(tom, liz).
parent(bob, ann).`)

	res := runQuery(d, "parent(tom, X)", true)
	if !res.query.Success {
		t.Fatal("expected success")
	}
	if len(res.query.Bindings) != 2 {
		t.Fatalf("expected 2 solutions, got %d: %+v", len(res.query.Bindings), res.query.Bindings)
	}
}

func TestSolveRuleWithConjunction(t *testing.T) {
	d := newDB()
	mustConsult(t, d, `parent(tom, bob).
parent(bob, ann).
grandparent(X, Y) :- parent(X, Z), parent(Z, Y).`)

	res := runQuery(d, "grandparent(tom, ann)", false)
	if !res.query.Success {
		t.Fatal("expected grandparent(tom, ann) to succeed")
	}
}

func TestSolveNoSolution(t *testing.T) {
	d := newDB()
	mustConsult(t, d, `parent(tom, bob).`)

	res := runQuery(d, "parent(bob, tom)", false)
	if res.query.Success {
		t.Fatal("expected failure")
	}
}

func TestArithmeticIs(t *testing.T) {
	d := newDB()
	res := runQuery(d, "X is 2 + 3 * 4", false)
	if !res.query.Success {
		t.Fatal("expected success")
	}
	if res.query.Bindings[0]["X"] != "14" {
		t.Errorf("expected X=14, got %v", res.query.Bindings[0])
	}
}

func TestComparisonBuiltin(t *testing.T) {
	d := newDB()
	res := runQuery(d, "3 < 5", false)
	if !res.query.Success {
		t.Fatal("expected 3 < 5 to succeed")
	}
	res = runQuery(d, "5 < 3", false)
	if res.query.Success {
		t.Fatal("expected 5 < 3 to fail")
	}
}

func TestNegationAsFailure(t *testing.T) {
	d := newDB()
	mustConsult(t, d, `bird(tweety).`)

	res := runQuery(d, "bird(tweety) \\= bird(polly)", false)
	if !res.query.Success {
		t.Fatal("expected non-unifiable terms to succeed \\=")
	}
	res = runQuery(d, "bird(tweety) \\= bird(tweety)", false)
	if res.query.Success {
		t.Fatal("expected identical terms to fail \\=")
	}
}

func TestParseConsultRejectsMalformed(t *testing.T) {
	if _, err := parseConsultText("parent(tom, bob"); err == nil {
		t.Fatal("expected parse error for unterminated clause")
	}
}

func TestAllSolutionsVsFirstOnly(t *testing.T) {
	d := newDB()
	mustConsult(t, d, `color(red).
color(green).
color(blue).`)

	first := runQuery(d, "color(X)", false)
	if len(first.query.Bindings) != 1 {
		t.Fatalf("expected exactly 1 binding without allSolutions, got %d", len(first.query.Bindings))
	}

	all := runQuery(d, "color(X)", true)
	if len(all.query.Bindings) != 3 {
		t.Fatalf("expected 3 bindings with allSolutions, got %d", len(all.query.Bindings))
	}
}
