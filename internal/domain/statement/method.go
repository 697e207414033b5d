package statement

import "strings"

// ParsingMethod names the strategy that produced a non-empty transaction list.
type ParsingMethod string

const (
	MethodPDFVision                 ParsingMethod = "pdf_vision"
	MethodPDFTextSingle             ParsingMethod = "pdf_text_single"
	MethodPDFTextChunked            ParsingMethod = "pdf_text_chunked"
	MethodFormatSpecPython          ParsingMethod = "format_spec_python"
	MethodFormatSpecCSVRetry        ParsingMethod = "format_spec_csv_retry"
	MethodFormatSpecFallbackSingle  ParsingMethod = "format_spec_fallback_single"
	MethodFormatSpecFallbackChunked ParsingMethod = "format_spec_fallback_chunked"
	MethodFormatDetectFailedSingle  ParsingMethod = "format_detect_failed_single"
	MethodFormatDetectFailedChunked ParsingMethod = "format_detect_failed_chunked"

	// MethodBankTemplate is a fixed per-bank export layout chosen by the
	// caller. It is not part of the ladder.
	MethodBankTemplate ParsingMethod = "bank_template"
)

// AllMethods lists the nine methods in ladder order.
var AllMethods = []ParsingMethod{
	MethodPDFVision,
	MethodPDFTextSingle,
	MethodPDFTextChunked,
	MethodFormatSpecPython,
	MethodFormatSpecCSVRetry,
	MethodFormatSpecFallbackSingle,
	MethodFormatSpecFallbackChunked,
	MethodFormatDetectFailedSingle,
	MethodFormatDetectFailedChunked,
}

// UsesService reports whether the method calls the understanding service for extraction.
func (m ParsingMethod) UsesService() bool {
	return m != MethodFormatSpecPython && m != MethodFormatSpecCSVRetry && m != MethodBankTemplate
}

// IsChunked reports whether the method splits the document into several calls.
func (m ParsingMethod) IsChunked() bool {
	return strings.HasSuffix(string(m), "_chunked")
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
