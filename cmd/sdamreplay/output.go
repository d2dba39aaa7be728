// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/tidwall/pretty"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// phaseResult is the state of the deployment after one phase.
type phaseResult struct {
	Index       int
	Description string
	Topology    description.Topology
	ApplyErrors []error

	Selector  string
	Selected  []description.Server
	SelectErr error
}

type serverView struct {
	Address         string `json:"address"`
	Kind            string `json:"kind"`
	SetName         string `json:"setName,omitempty"`
	SetVersion      uint32 `json:"setVersion,omitempty"`
	ElectionID      string `json:"electionId,omitempty"`
	Primary         string `json:"primary,omitempty"`
	RTT             string `json:"rtt,omitempty"`
	TopologyVersion string `json:"topologyVersion,omitempty"`
	Error           string `json:"error,omitempty"`
}

type phaseView struct {
	Phase          int          `json:"phase"`
	Description    string       `json:"description,omitempty"`
	Kind           string       `json:"topologyType"`
	SetName        string       `json:"setName,omitempty"`
	MaxSetVersion  uint32       `json:"maxSetVersion,omitempty"`
	MaxElectionID  string       `json:"maxElectionId,omitempty"`
	Compatibility  string       `json:"compatibilityError,omitempty"`
	Servers        []serverView `json:"servers"`
	ApplyErrors    []string     `json:"applyErrors,omitempty"`
	Selector       string       `json:"selector,omitempty"`
	Selected       []string     `json:"selected,omitempty"`
	SelectionError string       `json:"selectionError,omitempty"`
}

func newServerView(s description.Server) serverView {
	v := serverView{
		Address:    s.Addr.String(),
		Kind:       s.Kind.String(),
		SetName:    s.SetName,
		SetVersion: s.SetVersion,
		Primary:    s.Primary.String(),
	}
	if !s.ElectionID.IsZero() {
		v.ElectionID = s.ElectionID.Hex()
	}
	if rtt := s.RoundTripTime(); rtt != description.UnsetRTT {
		v.RTT = rtt.String()
	}
	if s.TopologyVersion != nil {
		v.TopologyVersion = fmt.Sprintf("%s:%d", s.TopologyVersion.ProcessID.Hex(), s.TopologyVersion.Counter)
	}
	if s.LastError != nil {
		v.Error = s.LastError.Error()
	}
	return v
}

func newPhaseView(res phaseResult) phaseView {
	topo := res.Topology
	v := phaseView{
		Phase:         res.Index,
		Description:   res.Description,
		Kind:          topo.Kind.String(),
		SetName:       topo.SetName,
		MaxSetVersion: topo.MaxSetVersion,
		Selector:      res.Selector,
	}
	if !topo.MaxElectionID.IsZero() {
		v.MaxElectionID = topo.MaxElectionID.Hex()
	}
	if topo.CompatibilityErr != nil {
		v.Compatibility = topo.CompatibilityErr.Error()
	}
	for _, s := range topo.Servers {
		v.Servers = append(v.Servers, newServerView(s))
	}
	for _, err := range res.ApplyErrors {
		v.ApplyErrors = append(v.ApplyErrors, err.Error())
	}
	for _, s := range res.Selected {
		v.Selected = append(v.Selected, s.Addr.String())
	}
	if res.SelectErr != nil {
		v.SelectionError = res.SelectErr.Error()
	}
	return v
}

func writeJSON(w io.Writer, res phaseResult) error {
	data, err := json.Marshal(newPhaseView(res))
	if err != nil {
		return errors.Wrap(err, "error marshaling phase")
	}
	_, err = w.Write(pretty.Pretty(data))
	return err
}

func writeTable(w io.Writer, res phaseResult) error {
	v := newPhaseView(res)

	fmt.Fprintf(w, "Phase %d", v.Phase)
	if v.Description != "" {
		fmt.Fprintf(w, ": %s", v.Description)
	}
	fmt.Fprintf(w, "\nTopology: %s", v.Kind)
	if v.SetName != "" {
		fmt.Fprintf(w, " (%s)", v.SetName)
	}
	fmt.Fprintf(w, "\n")
	if v.Compatibility != "" {
		fmt.Fprintf(w, "Incompatible: %s\n", v.Compatibility)
	}
	for _, e := range v.ApplyErrors {
		fmt.Fprintf(w, "Apply error: %s\n", e)
	}

	selected := make(map[string]bool, len(v.Selected))
	for _, addr := range v.Selected {
		selected[addr] = true
	}
	rows := make([][]string, 0, len(v.Servers))
	for _, s := range v.Servers {
		mark := ""
		if selected[s.Address] {
			mark = "*"
		}
		setVersion := ""
		if s.SetVersion != 0 {
			setVersion = strconv.FormatUint(uint64(s.SetVersion), 10)
		}
		rows = append(rows, []string{mark, s.Address, s.Kind, s.SetName, setVersion, s.RTT, s.Error})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"", "Address", "Kind", "Set", "Version", "RTT", "Error"})
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()

	if v.Selector != "" {
		fmt.Fprintf(w, "Selector %s: ", v.Selector)
		switch {
		case v.SelectionError != "":
			fmt.Fprintf(w, "error: %s\n", v.SelectionError)
		case len(v.Selected) == 0:
			fmt.Fprintf(w, "no suitable server\n")
		default:
			fmt.Fprintf(w, "%d suitable\n", len(v.Selected))
		}
	}
	fmt.Fprintf(w, "\n")
	return nil
}
