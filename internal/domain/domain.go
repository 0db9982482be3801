package domain

// Object type discriminators stored in every ledger record.
const (
	TypeTag            = "rfidTag"
	TypeCollection     = "collectionEvent"
	TypeBag            = "bag"
	TypeTransportBatch = "transportBatch"
	TypeProcessedBatch = "processedBatch"
	TypeProcessingStep = "processingStep"
	TypeQualityTest    = "qualityTest"
	TypeSmartLabel     = "smartLabel"
	TypeRecall         = "recall"
	TypeSpeciesList    = "speciesList"
	TypeRulesConfig    = "rulesConfig"
)

// Status values for tags, bags and batches. Transitions are monotonic;
// recalled and consumed are terminal.
const (
	StatusProvisioned = "provisioned"
	StatusRecorded    = "recorded"
	StatusCollected   = "collected"
	StatusInTransit   = "in_transit"
	StatusDelivered   = "delivered"
	StatusConsumed    = "consumed"
	StatusProcessed   = "processed"
	StatusApproved    = "approved"
	StatusQuarantined = "quarantined"
	StatusRecalled    = "recalled"
)

// Sentinel ledger keys.
const (
	SpeciesListKey = "ALLOWED_SPECIES"
	RulesConfigKey = "RULES_CONFIG"
)

type Tag struct {
	ObjectType    string `json:"objectType"`
	TagUID        string `json:"tagUID"`
	BatchID       string `json:"batchID"`
	ProvisionerID string `json:"provisionerID"`
	MetaHash      string `json:"metaHash"`
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp" format:"date-time"`
	Owner         string `json:"owner"`
}

type CollectionEvent struct {
	ObjectType  string   `json:"objectType"`
	EventID     string   `json:"eventID"`
	CollectorID string   `json:"collectorID"`
	Species     string   `json:"species"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	BagIDs      []string `json:"bagIDs"`
	MetaHash    string   `json:"metaHash"`
	Status      string   `json:"status"`
	Timestamp   string   `json:"timestamp" format:"date-time"`
	Owner       string   `json:"owner"`
}

// Bag is the smallest traceable unit. Bags are never provisioned explicitly;
// a collection event writes them into existence.
type Bag struct {
	ObjectType   string `json:"objectType"`
	BagID        string `json:"bagID"`
	Owner        string `json:"owner"`
	Status       string `json:"status"`
	LastEvent    string `json:"lastEvent,omitempty"`
	CurrentBatch string `json:"currentBatch,omitempty"`
	Timestamp    string `json:"timestamp" format:"date-time"`
}

// Transfer is one entry of a batch's append-only transfer history.
type Transfer struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

// Batch is the shared shape of transportBatch and processedBatch records.
// ObjectType keeps the two variants apart; transfer, quarantine, recall and
// quality operations act on either variant through this one type.
type Batch struct {
	ObjectType          string     `json:"objectType"`
	BatchID             string     `json:"batchID"`
	BagIDs              []string   `json:"bagIDs,omitempty"`
	TransporterID       string     `json:"transporterID,omitempty"`
	TruckID             string     `json:"truckID,omitempty"`
	ProcessorID         string     `json:"processorID,omitempty"`
	InputBatches        []string   `json:"inputBatches,omitempty"`
	InputBags           []string   `json:"inputBags,omitempty"`
	MetaHash            string     `json:"metaHash"`
	Status              string     `json:"status"`
	Timestamp           string     `json:"timestamp" format:"date-time"`
	Owner               string     `json:"owner"`
	ParentBags          []string   `json:"parentBags,omitempty"`
	ParentBatches       []string   `json:"parentBatches,omitempty"`
	TransferHistory     []Transfer `json:"transferHistory,omitempty"`
	QuarantineReason    string     `json:"quarantineReason,omitempty"`
	QuarantineTimestamp string     `json:"quarantineTimestamp,omitempty" format:"date-time"`
	LastStatusUpdate    string     `json:"lastStatusUpdate,omitempty" format:"date-time"`
}

type ProcessingStep struct {
	ObjectType string         `json:"objectType"`
	StepID     string         `json:"stepID"`
	BatchID    string         `json:"batchID"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters"`
	OperatorID string         `json:"operatorID"`
	MetaHash   string         `json:"metaHash"`
	Timestamp  string         `json:"timestamp" format:"date-time"`
	Owner      string         `json:"owner"`
}

// TestResult is one named measurement of a quality test.
type TestResult struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type QualityTest struct {
	ObjectType  string       `json:"objectType"`
	TestID      string       `json:"testID"`
	BatchID     string       `json:"batchID"`
	LabID       string       `json:"labID"`
	TestResults []TestResult `json:"testResults"`
	OverallPass bool         `json:"overallPass"`
	MetaHash    string       `json:"metaHash"`
	Timestamp   string       `json:"timestamp" format:"date-time"`
	Owner       string       `json:"owner"`
}

// LabelData is the hashed payload of a smart label.
type LabelData struct {
	BatchID   string         `json:"batchID"`
	LabelMeta map[string]any `json:"labelMeta"`
	Timestamp string         `json:"timestamp" format:"date-time"`
	Issuer    string         `json:"issuer"`
}

type SmartLabel struct {
	ObjectType string    `json:"objectType"`
	LabelID    string    `json:"labelID"`
	BatchID    string    `json:"batchID"`
	LabelData  LabelData `json:"labelData"`
	Signature  string    `json:"signature"`
	Timestamp  string    `json:"timestamp" format:"date-time"`
}

type Recall struct {
	ObjectType string         `json:"objectType"`
	RecallID   string         `json:"recallID"`
	BatchID    string         `json:"batchID"`
	Reason     string         `json:"reason"`
	RecallMeta map[string]any `json:"recallMeta"`
	Timestamp  string         `json:"timestamp" format:"date-time"`
	Initiator  string         `json:"initiator"`
}

// SpeciesList is the sentinel record enumerating collectible species.
type SpeciesList struct {
	ObjectType string   `json:"objectType"`
	Species    []string `json:"species"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// IsBatchType reports whether an object type names a batch variant.
func IsBatchType(objectType string) bool {
	return objectType == TypeTransportBatch || objectType == TypeProcessedBatch
}
