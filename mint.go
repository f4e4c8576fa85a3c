package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// mintState is a state of one orchestration run.
type mintState int

const (
	stateStart mintState = iota
	statePhaseChecked
	stateChallengeReceived
	stateSolved
	stateVerified
	stateSigned
	stateMinted
	stateClosedAbort
	stateDryRunStop
)

var mintStateNames = map[mintState]string{
	stateStart:             "start",
	statePhaseChecked:      "phase-checked",
	stateChallengeReceived: "challenge-received",
	stateSolved:            "solved",
	stateVerified:          "verified",
	stateSigned:            "signed",
	stateMinted:            "minted",
	stateClosedAbort:       "closed-abort",
	stateDryRunStop:        "dry-run-stop",
}

func (s mintState) String() string {
	if n, ok := mintStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// mintTransitions lists the only legal moves; anything else is a bug.
var mintTransitions = map[mintState][]mintState{
	stateStart:             {statePhaseChecked},
	statePhaseChecked:      {stateChallengeReceived, stateClosedAbort},
	stateChallengeReceived: {stateSolved},
	stateSolved:            {stateVerified},
	stateVerified:          {stateSigned, stateMinted, stateDryRunStop},
	stateSigned:            {stateMinted},
}

// Step names used in error reports.
const (
	stepPhase     = "phase"
	stepChallenge = "challenge"
	stepSolve     = "solve"
	stepVerify    = "verify"
	stepSign      = "sign"
	stepMint      = "mint"
)

// stepError tells the user which step failed and how.
type stepError struct {
	Step string
	Err  error
}

func (e *stepError) Error() string {
	if isCanceled(e.Err) {
		return fmt.Sprintf("%s step interrupted: %v", e.Step, e.Err)
	}
	how := "fatal, not retried"
	if classify(e.Err) == classRetryable {
		how = "retried, giving up"
	}
	return fmt.Sprintf("%s step failed (%s): %v", e.Step, how, e.Err)
}

func (e *stepError) Unwrap() error { return e.Err }

// mintAPI is the server side of the flow.
type mintAPI interface {
	phase(ctx context.Context) (Phase, error)
	challenge(ctx context.Context) (Challenge, error)
	verify(ctx context.Context, sol Solution) (MintToken, error)
	mint(ctx context.Context, token MintToken, phase Phase, proof *whitelistProof) (*MintResult, error)
}

type challengeSolver interface {
	solve(ctx context.Context, ch Challenge) (Solution, error)
}

// mintOptions are per-run caller choices.
type mintOptions struct {
	DryRun           bool
	WhitelistMessage string
}

// mintOutcome describes how a run ended. Trace holds every state visited.
type mintOutcome struct {
	RunID    string
	State    mintState
	Trace    []mintState
	Phase    Phase
	Solution *Solution
	Result   *MintResult
}

func (o *mintOutcome) advance(to mintState) {
	for _, next := range mintTransitions[o.State] {
		if next == to {
			o.State = to
			o.Trace = append(o.Trace, to)
			return
		}
	}
	panic(fmt.Sprintf("invalid mint transition %s -> %s", o.State, to))
}

// mintFlow drives phase -> challenge -> solve -> verify -> [sign] -> mint.
// It holds no per-run state; every run starts from a fresh challenge.
type mintFlow struct {
	api    mintAPI
	solver challengeSolver
	signer signatureProvider
	scheme string
	log    *logger
	runID  func() string
}

func newMintFlow(api mintAPI, solver challengeSolver, signer signatureProvider, scheme string, log *logger) *mintFlow {
	if log == nil {
		log = nopLogger()
	}
	return &mintFlow{
		api:    api,
		solver: solver,
		signer: signer,
		scheme: scheme,
		log:    log,
		runID:  uuid.NewString,
	}
}

// run executes one orchestration run. A closed phase and a dry run end
// without error.
func (f *mintFlow) run(ctx context.Context, opts mintOptions) (*mintOutcome, error) {
	out := &mintOutcome{RunID: f.runID(), State: stateStart, Trace: []mintState{stateStart}}
	log := f.log.with("run", out.RunID)

	fail := func(step string, err error) (*mintOutcome, error) {
		return out, &stepError{Step: step, Err: err}
	}

	// Step 1: phase check.
	if err := ctx.Err(); err != nil {
		return fail(stepPhase, err)
	}
	phase, err := f.api.phase(ctx)
	if err != nil {
		return fail(stepPhase, err)
	}
	out.Phase = phase
	out.advance(statePhaseChecked)
	log.infof("current mint phase: %s", phase)

	if phase == PhaseClosed {
		log.warn("mint is closed, nothing to do")
		out.advance(stateClosedAbort)
		return out, nil
	}
	if !phase.known() {
		log.warnf("unrecognised phase %q, attempting mint anyway", phase)
	}
	if phase == PhaseWhitelist && f.signer == nil {
		return fail(stepSign, &protocolError{Op: "sign", Err: errSignerRequired})
	}

	// Step 2: PoW challenge.
	if err := ctx.Err(); err != nil {
		return fail(stepChallenge, err)
	}
	ch, err := f.api.challenge(ctx)
	if err != nil {
		return fail(stepChallenge, err)
	}
	out.advance(stateChallengeReceived)
	log.infof("challenge received: id=%s difficulty=%d algorithm=%s", ch.ID, ch.Difficulty, ch.Algorithm)

	// Step 3: solve locally.
	sol, err := f.solver.solve(ctx, ch)
	if err != nil {
		return fail(stepSolve, err)
	}
	out.Solution = &sol
	out.advance(stateSolved)

	// Step 4: verify. The server's answer is the only source of truth.
	if err := ctx.Err(); err != nil {
		return fail(stepVerify, err)
	}
	token, err := f.api.verify(ctx, sol)
	if err != nil {
		return fail(stepVerify, err)
	}
	out.advance(stateVerified)
	log.ok("PoW verified, mint token acquired")

	if opts.DryRun {
		log.infof("[dry run] would mint with token=%s… stopping here", tokenPrefix(token))
		out.advance(stateDryRunStop)
		return out, nil
	}

	// Step 5: whitelist signature.
	var proof *whitelistProof
	if phase == PhaseWhitelist {
		addr := f.signer.Address()
		sig, err := f.signer.Sign(whitelistMessage(f.scheme, addr, opts.WhitelistMessage))
		if err != nil {
			return fail(stepSign, err)
		}
		if sig == "" {
			return fail(stepSign, &protocolError{Op: "sign", Err: errors.New("signer returned an empty signature")})
		}
		proof = &whitelistProof{Signature: sig, Address: addr}
		out.advance(stateSigned)
		log.info("whitelist phase: adding EIP-191 signature to payload")
	}

	// Step 6: mint.
	if err := ctx.Err(); err != nil {
		return fail(stepMint, err)
	}
	res, err := f.api.mint(ctx, token, phase, proof)
	if err != nil {
		return fail(stepMint, err)
	}
	out.Result = res
	out.advance(stateMinted)

	tx, id := "n/a", "n/a"
	if res.TxHash != "" {
		tx = res.TxHash
	}
	if res.TokenID != nil {
		id = fmt.Sprint(*res.TokenID)
	}
	log.okf("mint successful: tx=%s tokenId=%s", tx, id)
	return out, nil
}

func tokenPrefix(t MintToken) string {
	s := string(t)
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
