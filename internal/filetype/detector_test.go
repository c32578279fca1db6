package filetype

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHasPDFExtension(t *testing.T) {
	cases := map[string]bool{
		"doc.pdf":   true,
		"DOC.PDF":   true,
		"doc.Pdf":   true,
		"doc.txt":   false,
		"doc":       false,
		"pdf":       false,
		"doc.pdf.x": false,
	}
	for name, want := range cases {
		if got := HasPDFExtension(name); got != want {
			t.Errorf("HasPDFExtension(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":          "report.pdf",
		"my report.pdf":       "my_report.pdf",
		"../../etc/passwd":    "passwd",
		"über läuft.pdf":      "ber_luft.pdf",
		"<script>.pdf":        "script.pdf",
		"....pdf":             "pdf",
		"":                    "document.pdf",
		"weird!!name??(1).pdf": "weirdname1.pdf",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsPDFByMagicBytes(t *testing.T) {
	dir := t.TempDir()

	pdfPath := filepath.Join(dir, "real.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	txtPath := filepath.Join(dir, "fake.pdf")
	if err := os.WriteFile(txtPath, []byte("just text pretending"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New()
	if ok, err := d.IsPDF(pdfPath); err != nil || !ok {
		t.Fatalf("real PDF rejected: ok=%v err=%v", ok, err)
	}
	if ok, err := d.IsPDF(txtPath); err != nil || ok {
		t.Fatalf("text file accepted as PDF: ok=%v err=%v", ok, err)
	}
	if _, err := d.IsPDF(filepath.Join(dir, "missing.pdf")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
