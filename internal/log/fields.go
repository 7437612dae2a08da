package log

// Field names shared by every component.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldErrorType  = "error_type"
	FieldOperation  = "operation"
	FieldVisitorID  = "visitor_id"
	FieldAccountant = "accountant_id"
	FieldMonth      = "month"
	FieldFromState  = "from_state"
	FieldToState    = "to_state"
	FieldLineID     = "line_id"
	FieldAmount     = "amount"
	FieldEventType  = "event_type"
	FieldLedgerRef  = "ledger_ref"
)

const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLifecycle = "lifecycle"
	ComponentAccounts  = "accounts"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentLedger    = "ledger"
	ComponentSecurity  = "security"
)

const (
	OpOpenMonth  = "open_month"
	OpUpdateFlat = "update_flat_rate"
	OpAddLine    = "add_free_form"
	OpModifyLine = "modify_free_form"
	OpDeleteLine = "delete_free_form"
	OpReceipts   = "set_receipts"
	OpClose      = "close"
	OpValidate   = "validate"
	OpRefuse     = "refuse"
	OpDefer      = "defer"
	OpReimburse  = "reimburse"
	OpExport     = "export"
	OpLogin      = "login"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)

const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeAuth          = "auth_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeConflict      = "conflict_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields builds key/value pairs for slog.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError is a no-op for a nil error.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithErrorType(errorType string) LogFields {
	f[FieldErrorType] = errorType
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithSheet identifies the sheet a log line is about.
func (f LogFields) WithSheet(visitorID, month string) LogFields {
	f[FieldVisitorID] = visitorID
	f[FieldMonth] = month
	return f
}

func (f LogFields) WithTransition(from, to string) LogFields {
	f[FieldFromState] = from
	f[FieldToState] = to
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice flattens the fields for slog's variadic API.
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
