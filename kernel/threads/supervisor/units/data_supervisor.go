package units

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"strings"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
	"github.com/inos-labs/smcc/kernel/threads/supervisor"
	"google.golang.org/protobuf/types/known/structpb"
)

// DataSupervisor is the in-process capability stand-in for the "data"
// domain (spec §10): it exercises capability dispatch over a job's
// structpb Params, not a production data-processing pipeline.
type DataSupervisor struct {
	*supervisor.UnifiedSupervisor
}

func NewDataSupervisor(epoch *foundation.EpochFlags, capabilities []string) *DataSupervisor {
	if len(capabilities) == 0 {
		capabilities = []string{"data.transform", "data.filter", "data.aggregate", "data.validate", "data.query"}
	}
	return &DataSupervisor{
		UnifiedSupervisor: supervisor.NewUnifiedSupervisor("data", capabilities, epoch),
	}
}

func (s *DataSupervisor) ExecuteJob(job *foundation.Job) *foundation.Result {
	if !s.SupportsOperation(job.Operation()) {
		return foundation.FailedResult(job.ID, "data capability not supported: "+job.Operation())
	}

	switch job.Method {
	case "transform":
		return s.compress(job)
	case "filter":
		return s.filter(job)
	case "aggregate":
		return s.aggregate(job)
	case "validate":
		return s.validate(job)
	case "query":
		return s.query(job)
	default:
		return foundation.FailedResult(job.ID, "unrecognized data method: "+job.Method)
	}
}

// compress runs job.Input through gzip, the teacher's convention for
// opaque payload transforms that don't need a schema.
func (s *DataSupervisor) compress(job *foundation.Job) *foundation.Result {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(job.Input); err != nil {
		return foundation.FailedResult(job.ID, "compress failed: "+err.Error())
	}
	if err := w.Close(); err != nil {
		return foundation.FailedResult(job.ID, "compress flush failed: "+err.Error())
	}
	return okResult(job.ID, buf.Bytes())
}

// filter keeps newline-delimited records from job.Input that contain the
// substring named by Params["contains"].
func (s *DataSupervisor) filter(job *foundation.Job) *foundation.Result {
	needle, err := stringField(job.Params, "contains")
	if err != nil {
		return foundation.FailedResult(job.ID, err.Error())
	}
	lines := strings.Split(string(job.Input), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.Contains(line, needle) {
			kept = append(kept, line)
		}
	}
	return okResult(job.ID, []byte(strings.Join(kept, "\n")))
}

// aggregate sums the numeric list field named by Params["field"].
func (s *DataSupervisor) aggregate(job *foundation.Job) *foundation.Result {
	field, err := stringField(job.Params, "field")
	if err != nil {
		return foundation.FailedResult(job.ID, err.Error())
	}
	if job.Params == nil {
		return foundation.FailedResult(job.ID, "aggregate requires params")
	}
	list, ok := job.Params.Fields[field]
	if !ok || list.GetListValue() == nil {
		return foundation.FailedResult(job.ID, "params field is not a list: "+field)
	}
	var sum float64
	for _, v := range list.GetListValue().Values {
		sum += v.GetNumberValue()
	}
	out, err := structpb.NewStruct(map[string]interface{}{"sum": sum})
	if err != nil {
		return foundation.FailedResult(job.ID, err.Error())
	}
	return structResult(job.ID, out)
}

// validate checks that every field named in Params["required"] (a list of
// strings) is present in Params.
func (s *DataSupervisor) validate(job *foundation.Job) *foundation.Result {
	if job.Params == nil {
		return foundation.FailedResult(job.ID, "validate requires params")
	}
	required, ok := job.Params.Fields["required"]
	if !ok || required.GetListValue() == nil {
		return foundation.FailedResult(job.ID, "params missing required list")
	}
	var missing []string
	for _, v := range required.GetListValue().Values {
		name := v.GetStringValue()
		if _, present := job.Params.Fields[name]; !present {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return foundation.FailedResult(job.ID, "missing fields: "+strings.Join(missing, ", "))
	}
	return okResult(job.ID, nil)
}

// query reads the dotted-path-free top-level field named by
// Params["key"] and returns its string form.
func (s *DataSupervisor) query(job *foundation.Job) *foundation.Result {
	key, err := stringField(job.Params, "key")
	if err != nil {
		return foundation.FailedResult(job.ID, err.Error())
	}
	if job.Params == nil {
		return foundation.FailedResult(job.ID, "query requires params")
	}
	v, ok := job.Params.Fields[key]
	if !ok {
		return foundation.FailedResult(job.ID, "key not found: "+key)
	}
	return okResult(job.ID, []byte(v.String()))
}

func stringField(params *structpb.Struct, key string) (string, error) {
	if params == nil {
		return "", fmt.Errorf("params missing field %q", key)
	}
	v, ok := params.Fields[key]
	if !ok {
		return "", fmt.Errorf("params missing field %q", key)
	}
	return v.GetStringValue(), nil
}

func structResult(jobID string, s *structpb.Struct) *foundation.Result {
	b, err := s.MarshalJSON()
	if err != nil {
		return foundation.FailedResult(jobID, err.Error())
	}
	return okResult(jobID, b)
}
