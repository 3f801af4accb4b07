package response

// ErrCode names a refusal in the error body. Clients branch on the code;
// Message is for display only.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrLearnerAccessOnly ErrCode = "LEARNER_ACCESS_ONLY"
	ErrProctorAccessOnly ErrCode = "PROCTOR_ACCESS_ONLY"
	ErrNotSessionOwner   ErrCode = "NOT_SESSION_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation       ErrCode = "VALIDATION_ERROR"
	ErrInvalidID        ErrCode = "INVALID_ID"
	ErrInvalidPayload   ErrCode = "INVALID_PAYLOAD"
	ErrUnknownEventType ErrCode = "UNKNOWN_EVENT_TYPE"
	ErrUnknownQuestion  ErrCode = "UNKNOWN_QUESTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrExamNotFound    ErrCode = "EXAM_NOT_FOUND"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrDuplicateActiveSession ErrCode = "DUPLICATE_ACTIVE_SESSION"
	ErrAttemptsExhausted      ErrCode = "ATTEMPTS_EXHAUSTED"
	ErrSessionNotActive       ErrCode = "SESSION_NOT_ACTIVE"
	ErrNotPendingReview       ErrCode = "NOT_PENDING_REVIEW"
	ErrNoQuestions            ErrCode = "NO_QUESTIONS"
	ErrInvalidExamConfig      ErrCode = "INVALID_EXAM_CONFIGURATION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal           ErrCode = "INTERNAL_ERROR"
	ErrStorageUnavailable ErrCode = "STORAGE_UNAVAILABLE"
)

// GetMessage returns the Indonesian display text for code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrLearnerAccessOnly:
		return "Sumber daya ini terbatas untuk peserta ujian."
	case ErrProctorAccessOnly:
		return "Sumber daya ini terbatas untuk pengawas."
	case ErrNotSessionOwner:
		return "Sesi ujian ini milik peserta lain."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrUnknownEventType:
		return "Jenis kejadian keamanan tidak dikenal."
	case ErrUnknownQuestion:
		return "Pertanyaan tidak termasuk dalam ujian ini."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrDuplicateActiveSession:
		return "Percobaan ini sudah memiliki sesi yang sedang berjalan."
	case ErrAttemptsExhausted:
		return "Jumlah percobaan untuk ujian ini sudah habis."
	case ErrSessionNotActive:
		return "Sesi ujian sudah berakhir."
	case ErrNotPendingReview:
		return "Sesi ujian ini tidak menunggu peninjauan."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."
	case ErrInvalidExamConfig:
		return "Konfigurasi ujian tidak valid."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	case ErrStorageUnavailable:
		return "Penyimpanan sementara tidak tersedia. Silakan kirim ulang."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
