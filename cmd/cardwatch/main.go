// go-cardwatch
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-cardwatch.
//
// go-cardwatch is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-cardwatch is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-cardwatch; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Command cardwatch watches a PC/SC contactless reader and reports cards as
// they arrive and leave. It can keep a card history, publish events over
// MQTT and expose Prometheus metrics.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app        = kingpin.New("cardwatch", "Watch a contactless smart-card reader and report card arrivals and departures.")
	configPath = app.Flag("config", "Path to the YAML configuration file.").Short('c').Envar("CARDWATCH_CONFIG").String()
	logLevel   = app.Flag("log-level", "Override the configured log level.").String()
	logJSON    = app.Flag("log-json", "Log in JSON format.").Bool()
	readerName = app.Flag("reader", "Prefer readers whose name contains this string.").String()

	readersCmd = app.Command("readers", "List the attached readers.")

	scanCmd  = app.Command("scan", "Sample the reader once and print the card on it.")
	scanSave = scanCmd.Flag("save", "Record the card in the history store.").Bool()
	scanName = scanCmd.Flag("name", "Name to give the saved card.").String()

	watchCmd = app.Command("watch", "Watch the reader and report every change. Press Enter to scan immediately.")

	ndefCmd = app.Command("ndef", "Read the NDEF message from a Type 2 card (Ultralight, NTAG).")

	historyCmd       = app.Command("history", "Inspect the card history.")
	historyCards     = historyCmd.Command("cards", "List known cards, most recently seen first.")
	historySightings = historyCmd.Command("sightings", "List card sightings, newest first.")
	sightingsUID     = historySightings.Arg("uid", "Only show sightings of this card.").String()
	sightingsLimit   = historySightings.Flag("limit", "Maximum number of sightings.").Default("20").Int()

	locationsCmd     = app.Command("locations", "Manage locations.")
	locationsAdd     = locationsCmd.Command("add", "Add or update a location.")
	locationName     = locationsAdd.Arg("name", "Location name.").Required().String()
	locationDesc     = locationsAdd.Flag("description", "Location description.").String()
	locationsList    = locationsCmd.Command("list", "List locations.")
	locationsCards   = locationsCmd.Command("cards", "List the cards assigned to a location.")
	locationCardsArg = locationsCards.Arg("name", "Location name.").Required().String()

	assignCmd      = app.Command("assign", "Assign a card to a location.")
	assignLocation = assignCmd.Arg("location", "Location name.").Required().String()
	assignUID      = assignCmd.Arg("uid", "Card UID in hex.").Required().String()
	assignLevel    = assignCmd.Flag("level", "Access level recorded with the assignment.").Default("1").Int()

	nameCmd  = app.Command("name", "Give a known card a name.")
	nameUID  = nameCmd.Arg("uid", "Card UID in hex.").Required().String()
	nameText = nameCmd.Arg("name", "Card name.").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := setup(flags{
		configPath: *configPath,
		logLevel:   *logLevel,
		logJSON:    *logJSON,
		readerName: *readerName,
	})
	if err != nil {
		log.Fatal(err)
	}

	err = dispatch(ctx, env, command)
	env.Close()
	if err != nil {
		env.log.Fatal(err)
	}
}

func dispatch(ctx context.Context, env *environment, command string) error {
	switch command {
	case readersCmd.FullCommand():
		return runReaders(ctx, env)
	case scanCmd.FullCommand():
		return runScan(ctx, env, *scanSave, *scanName)
	case watchCmd.FullCommand():
		return runWatch(ctx, env)
	case ndefCmd.FullCommand():
		return runNDEF(ctx, env)
	case historyCards.FullCommand():
		return runHistoryCards(ctx, env)
	case historySightings.FullCommand():
		return runHistorySightings(ctx, env, *sightingsUID, *sightingsLimit)
	case locationsAdd.FullCommand():
		return runLocationsAdd(ctx, env, *locationName, *locationDesc)
	case locationsList.FullCommand():
		return runLocationsList(ctx, env)
	case locationsCards.FullCommand():
		return runLocationCards(ctx, env, *locationCardsArg)
	case assignCmd.FullCommand():
		return runAssign(ctx, env, *assignLocation, *assignUID, *assignLevel)
	case nameCmd.FullCommand():
		return runName(ctx, env, *nameUID, *nameText)
	default:
		kingpin.FatalUsage("Unrecognized command")
		return nil
	}
}
