package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/hogvm/store"
	"github.com/chazu/hogvm/validator"
	"github.com/chazu/hogvm/vm"
	"github.com/chazu/hogvm/wire"
)

// Execute runs the program in the request.
//
// Request fields: one of "bytecode" (list), "program" (chunk table object)
// or "program_json" (string, keeps integer and key order), plus optional
// "globals" (object), "timeout_ms" (number) and "debug" (bool). timeout_ms
// can only shorten the configured execution timeout, and debug is ignored
// unless the server was created WithDebug.
func (s *HogServer) Execute(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	program, err := programFromRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return s.execute(ctx, program, req.Msg)
}

// Validate test-runs the bytecode in the request against the synthetic
// validation context. A rejected program is a successful response with
// "valid" false.
func (s *HogServer) Validate(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	program, err := programFromRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	fields, err := s.validate(ctx, program, req.Msg)
	if err != nil {
		return nil, err
	}
	return structResponse(fields)
}

// Register validates the program in the request and stores it under its
// content hash. "name" is required; "skip_validation" stores it as is.
func (s *HogServer) Register(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.store == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("no program store configured"))
	}
	name := req.Msg.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	program, err := programFromRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if !req.Msg.GetFields()["skip_validation"].GetBoolValue() {
		fields, err := s.validate(ctx, program, req.Msg)
		if err != nil {
			return nil, err
		}
		if fields["valid"] != true {
			return structResponse(fields)
		}
	}

	hash, err := s.store.Put(ctx, name, program)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return structResponse(map[string]any{"valid": true, "hash": hash, "name": name})
}

// Run executes a stored program. "ref" is a hash or a registered name.
func (s *HogServer) Run(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.store == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("no program store configured"))
	}
	ref := req.Msg.GetFields()["ref"].GetStringValue()
	if ref == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("ref is required"))
	}
	_, program, err := s.store.Resolve(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("program %q not found", ref))
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return s.execute(ctx, program, req.Msg)
}

// List returns the stored programs.
func (s *HogServer) List(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.store == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("no program store configured"))
	}
	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	programs := make([]any, len(entries))
	for i, e := range entries {
		programs[i] = map[string]any{
			"hash":       e.Hash,
			"name":       e.Name,
			"size":       e.Size,
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return structResponse(map[string]any{"programs": programs})
}

// execute runs program on the pool and describes the outcome. Classified
// execution failures are part of a successful response.
func (s *HogServer) execute(
	ctx context.Context,
	program *vm.Program,
	msg *structpb.Struct,
) (*connect.Response[structpb.Struct], error) {
	opts := s.config.ExecutionOptions()
	opts.Functions = s.functions
	fields := msg.GetFields()
	if g := fields["globals"].GetStructValue(); g != nil {
		opts.Globals = fromProtoStruct(g)
	}
	ceiling := opts.Timeout
	if ceiling <= 0 {
		ceiling = vm.DefaultTimeout
	}
	opts.Timeout = ceiling
	if ms := fields["timeout_ms"].GetNumberValue(); ms > 0 && ms < float64(ceiling/time.Millisecond) {
		opts.Timeout = time.Duration(ms * float64(time.Millisecond))
	}
	opts.Debug = s.debug && fields["debug"].GetBoolValue()

	type outcome struct {
		result *vm.Result
		err    error
	}
	out, err := s.pool.Do(ctx, func(ctx context.Context) (any, error) {
		if opts.Debug {
			// tracing stops the VM clock
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		result, err := vm.Execute(ctx, program, opts)
		return outcome{result, err}, nil
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	if err := out.(outcome).err; err != nil {
		log.Infof("execution failed: %v", err)
		return structResponse(map[string]any{"error": errorFields(err)})
	}

	result := out.(outcome).result
	value, err := toProto(result.Value)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	valueJSON, err := vm.MarshalJSON(result.Value, 0)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	output := make([]any, len(result.Output))
	for i, line := range result.Output {
		output[i] = line
	}
	resp, err := structpb.NewStruct(map[string]any{
		"value_json":   string(valueJSON),
		"repr":         vm.Repr(result.Value),
		"output":       output,
		"ops":          result.Ops,
		"max_mem_used": result.MaxMemUsed,
		"elapsed_ms":   float64(result.Elapsed) / float64(time.Millisecond),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp.Fields["value"] = value
	return connect.NewResponse(resp), nil
}

// validate runs the validator on the pool.
func (s *HogServer) validate(ctx context.Context, program *vm.Program, msg *structpb.Struct) (map[string]any, error) {
	var inputs *vm.Mapping
	if in := msg.GetFields()["inputs"].GetStructValue(); in != nil {
		inputs = fromProtoStruct(in)
	}
	opts := append(s.config.ValidationOptions(), validator.WithChunks(program.Chunks))

	_, err := s.pool.Do(ctx, func(ctx context.Context) (any, error) {
		return nil, validator.Validate(ctx, program.Root().Bytecode, inputs, opts...)
	})
	if err == nil {
		return map[string]any{"valid": true}, nil
	}
	var verr *validator.ValidationError
	if !errors.As(err, &verr) {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return map[string]any{
		"valid": false,
		"error": map[string]any{
			"category": verr.Category.String(),
			"message":  verr.Message,
		},
	}, nil
}

// programFromRequest reads the program fields of a request.
func programFromRequest(msg *structpb.Struct) (*vm.Program, error) {
	fields := msg.GetFields()
	if s, ok := fields["program_json"]; ok {
		return wire.ParseProgramJSON([]byte(s.GetStringValue()))
	}
	if p := fields["program"]; p != nil {
		return wire.ProgramFromValue(fromProto(p))
	}
	if b := fields["bytecode"].GetListValue(); b != nil {
		return vm.NewProgram(fromProto(fields["bytecode"]).(*vm.Array).Items), nil
	}
	return nil, fmt.Errorf("one of bytecode, program or program_json is required")
}

func structResponse(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}
