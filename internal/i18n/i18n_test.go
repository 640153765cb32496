package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "ExamAI" {
		t.Errorf("T(AppTitle) = %q, want 'ExamAI'", got)
	}

	got = T(ctx, "ExamCreated")
	if got != "Exam created." {
		t.Errorf("T(ExamCreated) = %q, want 'Exam created.'", got)
	}
}

func TestTranslateHindi(t *testing.T) {
	ctx := initLang(t, "hi")

	got := T(ctx, "ExamCreated")
	if got != "परीक्षा बनाई गई।" {
		t.Errorf("T(ExamCreated) = %q", got)
	}

	got = T(ctx, "SignedOut")
	if got != "साइन आउट हो गया।" {
		t.Errorf("T(SignedOut) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "ItemsDeleted", 1)
	if got1 != "1 item deleted." {
		t.Errorf("Tp(ItemsDeleted, 1) = %q, want '1 item deleted.'", got1)
	}

	got5 := Tp(ctx, "ItemsDeleted", 5)
	if got5 != "5 items deleted." {
		t.Errorf("Tp(ItemsDeleted, 5) = %q, want '5 items deleted.'", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "DeleteExamPrompt", map[string]any{"Phrase": "DELETE ALGEBRA"})
	if got != "Type DELETE ALGEBRA to confirm deletion." {
		t.Errorf("Td(DeleteExamPrompt) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareNegotiation(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "ExamCreated")
	})
	handler := Middleware("en")(next)

	// Accept-Language header picks Hindi.
	req := httptest.NewRequest("GET", "/api/exams", nil)
	req.Header.Set("Accept-Language", "hi-IN,hi;q=0.9,en;q=0.8")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "परीक्षा बनाई गई।" {
		t.Errorf("expected Hindi via Accept-Language, got %q", got)
	}

	// Query parameter wins over the header.
	req = httptest.NewRequest("GET", "/api/exams?lang=en", nil)
	req.Header.Set("Accept-Language", "hi")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Exam created." {
		t.Errorf("expected English via lang query, got %q", got)
	}

	// No preference falls back to the default.
	req = httptest.NewRequest("GET", "/api/exams", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Exam created." {
		t.Errorf("expected default English, got %q", got)
	}
}
