// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package engine

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// File is a workflow data file.
type File struct {
	ID   string
	Size float64
}

// Task is a node of the workflow graph.
type Task struct {
	ID string
	// Flops is the amount of work, derived from the recorded runtime and
	// core count at the reference speed.
	Flops    float64
	Cores    int
	Inputs   []*File
	Outputs  []*File
	Parents  []*Task
	Children []*Task
}

// Workflow is a task graph with file dependencies. Tasks are kept in
// declaration order.
type Workflow struct {
	Name  string
	Tasks []*Task
	Files map[string]*File

	producers map[string]*Task
}

// InputFiles returns the files no task produces, sorted by id.
func (w *Workflow) InputFiles() []*File {
	var files []*File
	for _, f := range w.Files {
		if _, produced := w.producers[f.ID]; !produced {
			files = append(files, f)
		}
	}
	slices.SortFunc(files, func(a, b *File) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return files
}

// WfCommons 1.4 and later split the graph from the recorded execution.
type wfSpecification struct {
	Tasks []struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Parents     []string `json:"parents"`
		InputFiles  []string `json:"inputFiles"`
		OutputFiles []string `json:"outputFiles"`
	} `json:"tasks"`
	Files []struct {
		ID          string  `json:"id"`
		SizeInBytes float64 `json:"sizeInBytes"`
	} `json:"files"`
}

type wfExecution struct {
	Tasks []wfExecutionTask `json:"tasks"`
}

type wfExecutionTask struct {
	ID               string  `json:"id"`
	RuntimeInSeconds float64 `json:"runtimeInSeconds"`
	CoreCount        float64 `json:"coreCount"`
}

// Older layouts carry everything on the task, with files listed inline.
type wfLegacyTask struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Runtime          float64  `json:"runtime"`
	RuntimeInSeconds float64  `json:"runtimeInSeconds"`
	Cores            float64  `json:"cores"`
	Parents          []string `json:"parents"`
	Files            []struct {
		ID          string  `json:"id"`
		Name        string  `json:"name"`
		Size        float64 `json:"size"`
		SizeInBytes float64 `json:"sizeInBytes"`
		Link        string  `json:"link"`
	} `json:"files"`
}

type wfDocument struct {
	Name     string `json:"name"`
	Workflow struct {
		Specification *wfSpecification `json:"specification"`
		Execution     *wfExecution     `json:"execution"`
		Tasks         []wfLegacyTask   `json:"tasks"`
	} `json:"workflow"`
}

// LoadWorkflow reads a WfCommons JSON workflow. Each task's work is its
// recorded runtime times its core count times referenceFlops, the speed of
// the machine the runtimes were recorded on.
func LoadWorkflow(path string, referenceFlops float64) (*Workflow, error) {
	if referenceFlops <= 0 {
		return nil, fmt.Errorf("reference flops must be positive")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow: %w", err)
	}
	var doc wfDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	b := newWorkflowBuilder(doc.Name, referenceFlops)
	if spec := doc.Workflow.Specification; spec != nil {
		err = b.addSpecification(spec, doc.Workflow.Execution)
	} else {
		err = b.addLegacyTasks(doc.Workflow.Tasks)
	}
	if err == nil {
		err = b.link()
	}
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	return b.w, nil
}

type workflowBuilder struct {
	w        *Workflow
	refFlops float64
	byID     map[string]*Task
	parents  map[*Task][]string
}

func newWorkflowBuilder(name string, refFlops float64) *workflowBuilder {
	return &workflowBuilder{
		w: &Workflow{
			Name:      name,
			Files:     make(map[string]*File),
			producers: make(map[string]*Task),
		},
		refFlops: refFlops,
		byID:     make(map[string]*Task),
		parents:  make(map[*Task][]string),
	}
}

func (b *workflowBuilder) addTask(id string, runtime, cores float64, parents []string) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("task without an id")
	}
	if _, dup := b.byID[id]; dup {
		return nil, fmt.Errorf("duplicate task %q", id)
	}
	if runtime < 0 {
		return nil, fmt.Errorf("task %q: negative runtime", id)
	}
	n := max(int(cores), 1)
	t := &Task{
		ID:    id,
		Flops: runtime * float64(n) * b.refFlops,
		Cores: n,
	}
	b.byID[id] = t
	b.parents[t] = parents
	b.w.Tasks = append(b.w.Tasks, t)
	return t, nil
}

func (b *workflowBuilder) file(id string, size float64) (*File, error) {
	if id == "" {
		return nil, fmt.Errorf("file without an id")
	}
	if f, ok := b.w.Files[id]; ok {
		if size != 0 && f.Size != size {
			return nil, fmt.Errorf("file %q declared with sizes %v and %v", id, f.Size, size)
		}
		return f, nil
	}
	if size < 0 {
		return nil, fmt.Errorf("file %q: negative size", id)
	}
	f := &File{ID: id, Size: size}
	b.w.Files[id] = f
	return f, nil
}

func (b *workflowBuilder) addOutput(t *Task, f *File) error {
	if p, ok := b.w.producers[f.ID]; ok && p != t {
		return fmt.Errorf("file %q produced by both %q and %q", f.ID, p.ID, t.ID)
	}
	b.w.producers[f.ID] = t
	t.Outputs = append(t.Outputs, f)
	return nil
}

func (b *workflowBuilder) addSpecification(spec *wfSpecification, exec *wfExecution) error {
	for _, sf := range spec.Files {
		if _, err := b.file(sf.ID, sf.SizeInBytes); err != nil {
			return err
		}
	}
	runs := make(map[string]wfExecutionTask)
	if exec != nil {
		for _, et := range exec.Tasks {
			runs[et.ID] = et
		}
	}
	for _, st := range spec.Tasks {
		id := st.ID
		if id == "" {
			id = st.Name
		}
		et := runs[id]
		t, err := b.addTask(id, et.RuntimeInSeconds, et.CoreCount, st.Parents)
		if err != nil {
			return err
		}
		for _, fid := range st.InputFiles {
			f, ok := b.w.Files[fid]
			if !ok {
				return fmt.Errorf("task %q: unknown input file %q", id, fid)
			}
			t.Inputs = append(t.Inputs, f)
		}
		for _, fid := range st.OutputFiles {
			f, ok := b.w.Files[fid]
			if !ok {
				return fmt.Errorf("task %q: unknown output file %q", id, fid)
			}
			if err := b.addOutput(t, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *workflowBuilder) addLegacyTasks(tasks []wfLegacyTask) error {
	for _, lt := range tasks {
		id := lt.ID
		if id == "" {
			id = lt.Name
		}
		runtime := lt.RuntimeInSeconds
		if runtime == 0 {
			runtime = lt.Runtime
		}
		t, err := b.addTask(id, runtime, lt.Cores, lt.Parents)
		if err != nil {
			return err
		}
		for _, lf := range lt.Files {
			fid, size := lf.ID, lf.SizeInBytes
			if fid == "" {
				fid = lf.Name
			}
			if size == 0 {
				size = lf.Size
			}
			f, err := b.file(fid, size)
			if err != nil {
				return fmt.Errorf("task %q: %w", id, err)
			}
			switch lf.Link {
			case "input":
				t.Inputs = append(t.Inputs, f)
			case "output":
				if err := b.addOutput(t, f); err != nil {
					return err
				}
			default:
				return fmt.Errorf("task %q file %q: unknown link %q", id, fid, lf.Link)
			}
		}
	}
	return nil
}

// link resolves explicit parents, adds the edges implied by file
// dependencies and rejects cycles.
func (b *workflowBuilder) link() error {
	if len(b.w.Tasks) == 0 {
		return fmt.Errorf("no tasks")
	}
	addEdge := func(parent, child *Task) {
		if parent == child || slices.Contains(child.Parents, parent) {
			return
		}
		child.Parents = append(child.Parents, parent)
		parent.Children = append(parent.Children, child)
	}
	for _, t := range b.w.Tasks {
		for _, pid := range b.parents[t] {
			p, ok := b.byID[pid]
			if !ok {
				return fmt.Errorf("task %q: unknown parent %q", t.ID, pid)
			}
			addEdge(p, t)
		}
		for _, f := range t.Inputs {
			if p, ok := b.w.producers[f.ID]; ok {
				if p == t {
					return fmt.Errorf("task %q consumes its own output %q", t.ID, f.ID)
				}
				addEdge(p, t)
			}
		}
	}

	// Kahn's algorithm; anything left unvisited sits on a cycle.
	pending := make(map[*Task]int, len(b.w.Tasks))
	var ready []*Task
	for _, t := range b.w.Tasks {
		pending[t] = len(t.Parents)
		if len(t.Parents) == 0 {
			ready = append(ready, t)
		}
	}
	visited := 0
	for len(ready) > 0 {
		t := ready[0]
		ready = ready[1:]
		visited++
		for _, c := range t.Children {
			pending[c]--
			if pending[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if visited != len(b.w.Tasks) {
		return fmt.Errorf("task graph has a cycle")
	}
	return nil
}

type graphDump struct {
	Name  string          `json:"name"`
	Tasks []graphDumpTask `json:"tasks"`
	Files []graphDumpFile `json:"files"`
}

type graphDumpTask struct {
	ID       string   `json:"id"`
	Flops    float64  `json:"flops"`
	Cores    int      `json:"cores"`
	Parents  []string `json:"parents"`
	Children []string `json:"children"`
	Inputs   []string `json:"input_files"`
	Outputs  []string `json:"output_files"`
}

type graphDumpFile struct {
	ID   string  `json:"id"`
	Size float64 `json:"size"`
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, id(item))
	}
	return out
}

// WriteGraph writes the task graph as indented JSON, replacing any
// existing file.
func (w *Workflow) WriteGraph(path string) error {
	taskID := func(t *Task) string { return t.ID }
	fileID := func(f *File) string { return f.ID }
	dump := graphDump{Name: w.Name}
	for _, t := range w.Tasks {
		dump.Tasks = append(dump.Tasks, graphDumpTask{
			ID:       t.ID,
			Flops:    t.Flops,
			Cores:    t.Cores,
			Parents:  ids(t.Parents, taskID),
			Children: ids(t.Children, taskID),
			Inputs:   ids(t.Inputs, fileID),
			Outputs:  ids(t.Outputs, fileID),
		})
	}
	fileIDs := make([]string, 0, len(w.Files))
	for id := range w.Files {
		fileIDs = append(fileIDs, id)
	}
	slices.Sort(fileIDs)
	for _, id := range fileIDs {
		dump.Files = append(dump.Files, graphDumpFile{ID: id, Size: w.Files[id].Size})
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
