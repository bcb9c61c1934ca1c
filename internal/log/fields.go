package log

// Common field names for structured logging
const (
	FieldComponent      = "component"
	FieldRequestID      = "request_id"
	FieldClientIP       = "client_ip"
	FieldMethod         = "method"
	FieldPath           = "path"
	FieldStatusCode     = "status_code"
	FieldDuration       = "duration_ms"
	FieldError          = "error"
	FieldOperation      = "operation"
	FieldUserID         = "user_id"
	FieldExpenseID      = "expense_id"
	FieldAmountCents    = "amount_cents"
	FieldCategory       = "category"
	FieldProjectedCents = "projected_cents"
	FieldLimitCents     = "limit_cents"
	FieldThreshold      = "alert_threshold"
	FieldPeriodStart    = "period_start"
	FieldStoragePath    = "storage_path"
	FieldBackend        = "backend"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentExpense   = "expense"
	ComponentBudget    = "budget"
	ComponentReport    = "report"
	ComponentAuth      = "auth"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentNotify    = "notify"
	ComponentReceipts  = "receipts"
	ComponentOCR       = "ocr"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
	ComponentCLI       = "cli"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpList     = "list"
	OpUpsert   = "upsert"
	OpEvaluate = "evaluate"
	OpNotify   = "notify"
	OpUpload   = "upload"
	OpScan     = "scan"
	OpLogin    = "login"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// Fields is an ordered key/value list for slog calls.
type Fields []any

func NewFields() Fields {
	return make(Fields, 0, 8)
}

func (f Fields) With(key string, value any) Fields {
	return append(f, key, value)
}

func (f Fields) WithComponent(component string) Fields {
	return f.With(FieldComponent, component)
}

func (f Fields) WithOperation(op string) Fields {
	return f.With(FieldOperation, op)
}

// WithError adds the error text; nil errors add nothing.
func (f Fields) WithError(err error) Fields {
	if err == nil {
		return f
	}
	return f.With(FieldError, err.Error())
}

func (f Fields) WithUser(userID string) Fields {
	return f.With(FieldUserID, userID)
}

// WithExpense adds the identifying fields of a stored expense.
func (f Fields) WithExpense(expenseID, userID string, amountCents int64, category string) Fields {
	return f.
		With(FieldExpenseID, expenseID).
		With(FieldUserID, userID).
		With(FieldAmountCents, amountCents).
		With(FieldCategory, category)
}
